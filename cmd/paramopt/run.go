package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/copyleftdev/paramopt/internal/config"
	"github.com/copyleftdev/paramopt/internal/logging"
	"github.com/copyleftdev/paramopt/internal/metrics"
	"github.com/copyleftdev/paramopt/internal/optimization"
	"github.com/copyleftdev/paramopt/internal/orchestrator"
)

type runOptions struct {
	problem     string
	algorithm   string
	output      string
	metricsAddr string
	progress    bool
}

func newRunCommand() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Optimize the problem described by a YAML file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runProblem(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.problem, "problem", "p", "", "path to the YAML problem file")
	flags.StringVarP(&opts.algorithm, "algorithm", "a", "", "algorithm overriding the problem file")
	flags.StringVarP(&opts.output, "output", "o", "json", "result format: json or yaml")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides METRICS_ADDR)")
	flags.BoolVar(&opts.progress, "progress", false, "log every iteration at info level")
	_ = cmd.MarkFlagRequired("problem")
	return cmd
}

func runProblem(cmd *cobra.Command, opts *runOptions) error {
	if opts.output != "json" && opts.output != "yaml" {
		return fmt.Errorf("unknown output format %q", opts.output)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(cfg.LoggingConfig())
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	problem, err := config.LoadProblem(opts.problem)
	if err != nil {
		return err
	}
	req, err := problem.Request()
	if err != nil {
		return err
	}
	if opts.algorithm != "" {
		req.Algorithm = opts.algorithm
	}
	if opts.progress {
		req.Progress = func(rec optimization.IterationRecord) {
			logger.Info("iteration",
				zap.Int("iteration", rec.Iteration),
				zap.Float64("fitness", rec.Fitness),
				zap.Any("parameters", rec.Parameters),
			)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := metrics.NewCollector(reg)
	if err != nil {
		return err
	}

	addr := cfg.Metrics.Addr
	if opts.metricsAddr != "" {
		addr = opts.metricsAddr
	}
	if addr != "" {
		srv := serveMetrics(addr, reg, logger)
		defer shutdownMetrics(srv, logger)
	}

	o := orchestrator.New(
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(collector),
		orchestrator.WithDefaults(cfg.OptimizationConfig()),
	)

	result, err := o.Run(cmd.Context(), req)
	if err != nil {
		return err
	}
	return writeResult(cmd.OutOrStdout(), opts.output, result)
}
