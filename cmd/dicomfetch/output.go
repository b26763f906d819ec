package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/caio-sobreiro/dicomfetch/retrieve"
)

type eventView struct {
	Kind      string `yaml:"kind"`
	Status    string `yaml:"status"`
	Message   string `yaml:"message,omitempty"`
	ObjectID  string `yaml:"object_id,omitempty"`
	Path      string `yaml:"path,omitempty"`
	Cancelled bool   `yaml:"cancelled"`
	Time      string `yaml:"time"`
}

type outcomeView struct {
	CallID    string      `yaml:"call_id"`
	Result    string      `yaml:"result"`
	TimedOut  bool        `yaml:"timed_out"`
	ObjectIDs []string    `yaml:"object_ids"`
	Events    []eventView `yaml:"events"`
}

func viewOutcome(o retrieve.Outcome) outcomeView {
	view := outcomeView{
		CallID:    o.CallID,
		Result:    o.Result(),
		TimedOut:  o.TimedOut,
		ObjectIDs: o.ObjectIDs,
	}
	for _, e := range o.Events {
		view.Events = append(view.Events, eventView{
			Kind:      e.Kind.String(),
			Status:    e.StatusHex(),
			Message:   e.Message,
			ObjectID:  e.ObjectID,
			Path:      e.Path,
			Cancelled: e.Cancelled,
			Time:      e.Time.Format(time.RFC3339Nano),
		})
	}
	return view
}

func printYAML(w io.Writer, value interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(value); err != nil {
		return err
	}
	return enc.Close()
}

func printOutcome(w io.Writer, o retrieve.Outcome) error {
	view := viewOutcome(o)
	if output == "yaml" {
		return printYAML(w, view)
	}
	for _, e := range view.Events {
		fmt.Fprintf(w, "%-16s %s %s", e.Kind, e.Status, e.Message)
		if e.ObjectID != "" {
			fmt.Fprintf(w, " object=%s", e.ObjectID)
		}
		if e.Path != "" {
			fmt.Fprintf(w, " path=%s", e.Path)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "result: %s (%d objects)\n", view.Result, len(view.ObjectIDs))
	return nil
}

func printDatasets(w io.Writer, datasets []map[string]string) error {
	if output == "yaml" {
		return printYAML(w, datasets)
	}
	for i, ds := range datasets {
		keys := make([]string, 0, len(ds))
		for k := range ds {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(w, "# %d\n", i+1)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s: %s\n", k, ds[k])
		}
	}
	return nil
}
