package main

import "flag"

// Options holds CLI options for the probe.
type Options struct {
	ConfigPath   string
	Ranks        int
	Nodes        int
	SnapshotPath string
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) Options {
	fs := flag.NewFlagSet("commesh-probe", flag.ExitOnError)
	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	fs.IntVar(&opts.Ranks, "ranks", 4, "Number of simulated ranks")
	fs.IntVar(&opts.Nodes, "nodes", 2, "Number of simulated nodes")
	fs.StringVar(&opts.SnapshotPath, "snapshot", "", "Write a CBOR topology snapshot to this path")
	_ = fs.Parse(args)
	return opts
}
