package main

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/caio-sobreiro/dicomfetch/dicom"
	"github.com/caio-sobreiro/dicomfetch/types"
)

var (
	queryLevel string
	queryKeys  map[string]string

	queryCmd = &cobra.Command{
		Use:   "query",
		Short: "Query the remote node with C-FIND",
		Example: `  dicomfetch query --level STUDY --key PatientID=P1
  dicomfetch query --level IMAGE --key SeriesInstanceUID=1.2.3 -o yaml`,
		Args: cobra.NoArgs,
		RunE: runQuery,
	}
)

func init() {
	queryCmd.Flags().StringVarP(&queryLevel, "level", "L", string(types.QueryLevelStudy), "Query level: PATIENT, STUDY, SERIES or IMAGE")
	queryCmd.Flags().StringToStringVarP(&queryKeys, "key", "k", nil, "Matching key as Keyword=Value, may be repeated")
}

func runQuery(cmd *cobra.Command, args []string) error {
	r, err := openRetriever()
	if err != nil {
		return err
	}
	defer r.Close()

	level := types.QueryLevel(strings.ToUpper(queryLevel))
	results, status := r.Query(cmd.Context(), level, queryKeys)
	if status != types.StatusSuccess {
		return errors.Errorf("query failed with status %s", types.StatusString(status))
	}
	views := make([]map[string]string, len(results))
	for i, ds := range results {
		views[i] = datasetView(ds)
	}
	return printDatasets(cmd.OutOrStdout(), views)
}

func datasetView(ds *dicom.Dataset) map[string]string {
	view := ds.ToMap()
	for k, value := range view {
		if value == "" {
			delete(view, k)
		}
	}
	return view
}
