package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/moolen/poddiag/internal/causality"
	"github.com/moolen/poddiag/internal/config"
	"github.com/moolen/poddiag/internal/engine"
	"github.com/moolen/poddiag/internal/logging"
	"github.com/moolen/poddiag/internal/render"
	"github.com/moolen/poddiag/internal/rules"
	"github.com/moolen/poddiag/internal/snapshot"
)

var (
	snapshotFlags []string
	podFlag       string
	eventsFlag    string
	pvcFlag       string
	pvFlag        string
	scFlag        string
	nodeFlag      string
	ownerFlag     string
	saFlag        string
	secretFlag    string
	configMapFlag string

	configFileFlag string
	rulesFileFlag  string
	formatFlag     string
	verboseFlag    bool
	enableCatFlag  []string
	disableCatFlag []string
	versionFlag    string
)

var explainCmd = &cobra.Command{
	Use:   "explain",
	Short: "Diagnose a pod snapshot",
	Long: `Diagnose one or more pod snapshots.

Either pass combined snapshot files with --snapshot (repeatable), or the
legacy per-object flags (--pod and --events plus optional objects).
Multiple snapshots are diagnosed concurrently; output order follows the
argument order.`,
	RunE: runExplain,
}

func init() {
	f := explainCmd.Flags()
	f.StringSliceVar(&snapshotFlags, "snapshot", nil, "Path to a combined snapshot JSON file (repeatable)")
	f.StringVar(&podFlag, "pod", "", "Path to Pod JSON")
	f.StringVar(&eventsFlag, "events", "", "Path to Events JSON (array or List)")
	f.StringVar(&pvcFlag, "pvc", "", "Path to PersistentVolumeClaim JSON")
	f.StringVar(&pvFlag, "pv", "", "Path to PersistentVolume JSON")
	f.StringVar(&scFlag, "storageclass", "", "Path to StorageClass JSON")
	f.StringVar(&nodeFlag, "node", "", "Path to Node JSON")
	f.StringVar(&ownerFlag, "owner", "", "Path to owner controller JSON (ReplicaSet/Deployment/StatefulSet)")
	f.StringVar(&saFlag, "serviceaccount", "", "Path to ServiceAccount JSON")
	f.StringVar(&secretFlag, "secret", "", "Path to Secret(s) JSON")
	f.StringVar(&configMapFlag, "configmap", "", "Path to ConfigMap(s) JSON")

	f.StringVar(&configFileFlag, "config", "", "Path to YAML config file")
	f.StringVar(&rulesFileFlag, "rules-file", "", "Path to an extra declarative rules YAML file")
	f.StringVar(&formatFlag, "format", "text", "Output format: text, json, markdown")
	f.BoolVar(&verboseFlag, "verbose", false, "Include per-rule evaluation trace in metadata")
	f.StringSliceVar(&enableCatFlag, "enable-categories", nil, "Restrict rules to these categories")
	f.StringSliceVar(&disableCatFlag, "disable-categories", nil, "Remove rules in these categories")
	f.StringVar(&versionFlag, "engine-version", "", "Engine version stamped into metadata")
}

func runExplain(cmd *cobra.Command, args []string) error {
	setupLog()
	logger := logging.GetLogger("cli")

	cfg, err := buildConfig()
	if err != nil {
		return err
	}

	eng, err := buildEngine(cfg)
	if err != nil {
		return err
	}

	snaps, err := collectSnapshots()
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		return fmt.Errorf("no input: pass --snapshot or --pod/--events")
	}

	logger.Debug("diagnosing %d snapshot(s)", len(snaps))

	// Diagnose concurrently; results stay in input order so output is
	// deterministic.
	results := make([]*causality.Explanation, len(snaps))
	var g errgroup.Group
	for i, snap := range snaps {
		g.Go(func() error {
			results[i] = eng.Explain(snap, cfg.EngineOptions())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	renderer := render.New(cfg.Format)
	inputError := false
	for i, exp := range results {
		if i > 0 {
			fmt.Println()
		}
		if err := renderer.Render(os.Stdout, exp); err != nil {
			return err
		}
		if exp.Metadata.Error != "" {
			inputError = true
		}
	}

	// A diagnosis is a success regardless of root cause; only input
	// errors are failures.
	if inputError {
		return fmt.Errorf("one or more snapshots were invalid")
	}
	return nil
}

func buildConfig() (*config.Config, error) {
	cfg := &config.Config{Format: "text"}
	if configFileFlag != "" {
		loaded, err := config.LoadFile(configFileFlag)
		if err != nil {
			return nil, err
		}
		cfg = loaded
		if cfg.Format == "" {
			cfg.Format = "text"
		}
	}

	// CLI flags override file values.
	if formatFlag != "text" || cfg.Format == "" {
		cfg.Format = formatFlag
	}
	if verboseFlag {
		cfg.Verbose = true
	}
	if len(enableCatFlag) > 0 {
		cfg.EnableCategories = enableCatFlag
	}
	if len(disableCatFlag) > 0 {
		cfg.DisableCategories = disableCatFlag
	}
	if versionFlag != "" {
		cfg.EngineVersion = versionFlag
	}
	if rulesFileFlag != "" {
		cfg.RulesFile = rulesFileFlag
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildEngine(cfg *config.Config) (*engine.Engine, error) {
	all, err := rules.DefaultRules()
	if err != nil {
		return nil, err
	}
	if cfg.RulesFile != "" {
		extra, err := rules.LoadDeclarativeFile(cfg.RulesFile)
		if err != nil {
			return nil, err
		}
		all = append(all, extra...)
	}
	registry, err := rules.NewRegistry(all)
	if err != nil {
		return nil, err
	}
	return engine.New(registry)
}

func collectSnapshots() ([]*snapshot.Snapshot, error) {
	var snaps []*snapshot.Snapshot
	for _, path := range snapshotFlags {
		snap, err := snapshot.Load(path)
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}

	if podFlag != "" {
		snap, err := snapshot.Assemble(map[string]string{
			"pod":            podFlag,
			"events":         eventsFlag,
			"pvc":            pvcFlag,
			"pv":             pvFlag,
			"storageclass":   scFlag,
			"node":           nodeFlag,
			"owner":          ownerFlag,
			"serviceaccount": saFlag,
			"secrets":        secretFlag,
			"configmaps":     configMapFlag,
		})
		if err != nil {
			return nil, err
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}
