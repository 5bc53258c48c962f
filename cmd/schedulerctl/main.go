// Copyright 2019 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/cellsched/scheduler/pkg/clockutil"
	"github.com/cellsched/scheduler/pkg/cluster"
	"github.com/cellsched/scheduler/pkg/config"
	logger "github.com/cellsched/scheduler/pkg/log"
	"github.com/cellsched/scheduler/pkg/metrics"
	"github.com/cellsched/scheduler/pkg/scheduler"
	"github.com/cellsched/scheduler/pkg/version"
)

// placementChange is one application's placement transition, the unit
// the -cycles printer emits; no-op entries (Before == After) are
// filtered out before printing.
type placementChange struct {
	Cycle   int    `yaml:"cycle"`
	AppName string `yaml:"app"`
	Before  string `yaml:"before,omitempty"`
	After   string `yaml:"after,omitempty"`
}

var log = logger.Default()

func main() {
	topologyPath := flag.String("topology", "", "Path to a topology fixture YAML file.")
	applicationsPath := flag.String("applications", "", "Path to an applications fixture YAML file.")
	configPath := flag.String("config", "", "Path to a cellsched config YAML file.")
	cycles := flag.Int("cycles", 1, "Number of scheduling cycles to run.")
	dumpMetrics := flag.Bool("metrics", false, "Dump the registered Prometheus collectors after the run.")
	flag.Parse()

	if *topologyPath == "" {
		exit("missing required -topology flag")
	}

	if *configPath != "" {
		if err := config.Load(*configPath); err != nil {
			log.Fatal("failed to load config %s: %v", *configPath, err)
		}
	}

	log.Info("schedulerctl (version %s, build %s) starting...", version.Version, version.Build)

	cell, err := scheduler.LoadTopology(*topologyPath, clockutil.RealClock)
	if err != nil {
		log.Fatal("failed to load topology %s: %v", *topologyPath, err)
	}

	if *applicationsPath != "" {
		if err := scheduler.LoadApplications(*applicationsPath, cell); err != nil {
			log.Fatal("failed to load applications %s: %v", *applicationsPath, err)
		}
	}

	driver := scheduler.NewDriver(cell)
	if err := metrics.RegisterCollector("schedulerctl", func() (prometheus.Collector, error) {
		return driver, nil
	}); err != nil {
		log.Fatal("failed to register metrics collector: %v", err)
	}

	ctx := context.Background()
	enc := yaml.NewEncoder(os.Stdout)
	defer enc.Close()

	for i := 0; i < *cycles; i++ {
		delta := driver.RunCycle(ctx)

		changed := lo.Filter(delta, func(entry cluster.PlacementDelta, _ int) bool {
			return entry.Before != entry.After
		})
		rows := lo.Map(changed, func(entry cluster.PlacementDelta, _ int) placementChange {
			return placementChange{Cycle: i + 1, AppName: entry.AppName, Before: entry.Before, After: entry.After}
		})
		if err := enc.Encode(rows); err != nil {
			log.Fatal("failed to encode placement delta: %v", err)
		}
	}

	if *dumpMetrics {
		if err := dumpGatheredMetrics(os.Stdout); err != nil {
			log.Fatal("failed to gather metrics: %v", err)
		}
	}
}

// dumpGatheredMetrics runs every collector registered via
// metrics.RegisterCollector (schedulerctl's own Driver among them) and
// prints the result as text, the same pipeline instrumentation's
// /metrics HTTP handler would drive.
func dumpGatheredMetrics(w *os.File) error {
	gatherer, err := metrics.NewMetricGatherer()
	if err != nil {
		return err
	}

	families, err := gatherer.Gather()
	if err != nil {
		return err
	}

	for _, mf := range families {
		fmt.Fprintf(w, "# %s %s\n", mf.GetName(), mf.GetHelp())
		for _, m := range mf.GetMetric() {
			fmt.Fprintf(w, "%s%s %v\n", mf.GetName(), formatLabels(m.GetLabel()), metricValue(mf, m))
		}
	}
	return nil
}

func formatLabels(labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return ""
	}
	out := "{"
	for i, l := range labels {
		if i > 0 {
			out += ","
		}
		out += l.GetName() + "=" + l.GetValue()
	}
	return out + "}"
}

func metricValue(mf *dto.MetricFamily, m *dto.Metric) float64 {
	switch mf.GetType() {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue()
	default:
		return 0
	}
}

func exit(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "schedulerctl: "+format+"\n", args...)
	flag.Usage()
	os.Exit(1)
}
