package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/caio-sobreiro/dicomfetch/retrieve"
)

var (
	retrieveCriteria retrieve.Criteria
	retrieveSOPs     []string
	retrieveParallel int

	retrieveCmd = &cobra.Command{
		Use:   "retrieve",
		Short: "Retrieve objects from the remote node into the archive",
		Long: `Retrieve the objects matching the given keys. An image already in the
archive is answered from there unless --override is set. Several --sop
values retrieve several images; archived ones are answered concurrently.`,
		Args: cobra.NoArgs,
		RunE: runRetrieve,
	}
)

func init() {
	flags := retrieveCmd.Flags()
	flags.StringVar(&retrieveCriteria.PatientID, "patient-id", "", "Patient ID")
	flags.StringVar(&retrieveCriteria.StudyUID, "study", "", "Study Instance UID")
	flags.StringVar(&retrieveCriteria.SeriesUID, "series", "", "Series Instance UID")
	flags.StringSliceVar(&retrieveSOPs, "sop", nil, "SOP Instance UID, may be repeated")
	flags.StringVar(&retrieveCriteria.SubPath, "subpath", "", "Directory below the archive root")
	flags.BoolVar(&retrieveCriteria.Override, "override", false, "Fetch even when archived and replace the copy")
	flags.IntVar(&retrieveParallel, "parallel", 4, "Maximum concurrent retrievals")
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	r, err := openRetriever()
	if err != nil {
		return err
	}
	defer r.Close()

	criteria := []retrieve.Criteria{retrieveCriteria}
	if len(retrieveSOPs) > 0 {
		criteria = criteria[:0]
		for _, sop := range retrieveSOPs {
			c := retrieveCriteria
			c.SOPUID = sop
			criteria = append(criteria, c)
		}
	}

	outcomes := make([]retrieve.Outcome, len(criteria))
	g, ctx := errgroup.WithContext(cmd.Context())
	if retrieveParallel > 0 {
		g.SetLimit(retrieveParallel)
	}
	for i, c := range criteria {
		i, c := i, c
		g.Go(func() error {
			outcomes[i] = r.Retrieve(ctx, c)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	ok := true
	for _, outcome := range outcomes {
		if err := printOutcome(cmd.OutOrStdout(), outcome); err != nil {
			return errors.Wrap(err, "failed to print outcome")
		}
		switch outcome.Result() {
		case "archive_hit", "done", "received":
		default:
			ok = false
		}
	}
	if !ok {
		return errRetrievalFailed
	}
	return nil
}
