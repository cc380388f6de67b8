package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/randomizedcoder/go-hwdiag/internal/process"
)

// DiscoverKeyPrefix prefixes stored discovery reports.
const DiscoverKeyPrefix = "discover:"

// RunDiscover probes the host, stores the report under
// discover:<hostname> and prints it as YAML.
func (o *Orchestrator) RunDiscover(ctx context.Context) (*process.SystemInfo, error) {
	if o.store == nil {
		return nil, errors.New("discover: no store configured")
	}

	// The staged binary is described with file(1) when staging works;
	// discovery still runs without it.
	var binaryPath string
	bin, err := o.stager.Stage(o.variant)
	o.collector.RecordStage(err)
	if err != nil {
		o.logger.Warn("discover_stage_failed", "error", err)
	} else {
		defer bin.Release()
		binaryPath = bin.Path
	}

	info, err := process.Discover(ctx, o.runner, o.logger, process.DiscoverConfig{
		GOOS:       o.goos,
		BinaryPath: binaryPath,
	})
	if err != nil {
		return nil, err
	}

	value, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("encode discovery report: %w", err)
	}
	key := DiscoverKeyPrefix + info.Hostname
	if _, _, err := o.store.Put(ctx, []byte(key), string(value)); err != nil {
		return nil, fmt.Errorf("store discovery report: %w", err)
	}
	o.logger.Info("discover_stored", "key", key, "warnings", len(info.Warnings))

	enc := yaml.NewEncoder(o.stdout)
	enc.SetIndent(2)
	if err := enc.Encode(info); err != nil {
		return nil, fmt.Errorf("print discovery report: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("print discovery report: %w", err)
	}

	return info, nil
}
