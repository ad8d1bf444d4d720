package main

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/bricerising/homegame/internal/engine"
	"github.com/bricerising/homegame/internal/table"
)

// presetFile declares tables to create at boot so a fresh deployment is
// playable without any RPC calls.
type presetFile struct {
	Tables []presetTable `hcl:"table,block"`
}

type presetTable struct {
	Name             string `hcl:"name,label"`
	OwnerID          string `hcl:"owner_id"`
	SmallBlind       int    `hcl:"small_blind"`
	BigBlind         int    `hcl:"big_blind"`
	Ante             int    `hcl:"ante,optional"`
	MaxPlayers       int    `hcl:"max_players,optional"`
	StartingStack    int    `hcl:"starting_stack,optional"`
	TurnTimerSeconds int    `hcl:"turn_timer_seconds,optional"`
}

func loadPresets(filename string) (*presetFile, error) {
	if _, err := os.Stat(filename); os.IsNotExist(err) {
		return nil, fmt.Errorf("preset file %s does not exist", filename)
	}
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse preset file: %s", diags.Error())
	}
	var presets presetFile
	if diags := gohcl.DecodeBody(file.Body, nil, &presets); diags.HasErrors() {
		return nil, fmt.Errorf("decode preset file: %s", diags.Error())
	}
	for i := range presets.Tables {
		t := &presets.Tables[i]
		if t.MaxPlayers == 0 {
			t.MaxPlayers = 6
		}
		if t.StartingStack == 0 {
			t.StartingStack = t.BigBlind * 100
		}
		if t.TurnTimerSeconds == 0 {
			t.TurnTimerSeconds = 20
		}
	}
	return &presets, nil
}

// applyPresets creates the declared tables, keyed by name so restarting the
// process never duplicates them.
func applyPresets(ctx context.Context, orch *table.Orchestrator, filename string, logger *log.Logger) error {
	presets, err := loadPresets(filename)
	if err != nil {
		return err
	}

	existing, err := orch.ListTables(ctx)
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	byName := map[string]bool{}
	for _, summary := range existing {
		byName[summary.Name] = true
	}

	for _, preset := range presets.Tables {
		if byName[preset.Name] {
			logger.Debug("preset table already exists", "name", preset.Name)
			continue
		}
		created, err := orch.CreateTable(ctx, preset.OwnerID, preset.Name, engine.TableConfig{
			SmallBlind:       preset.SmallBlind,
			BigBlind:         preset.BigBlind,
			Ante:             preset.Ante,
			MaxPlayers:       preset.MaxPlayers,
			StartingStack:    preset.StartingStack,
			TurnTimerSeconds: preset.TurnTimerSeconds,
		})
		if err != nil {
			return fmt.Errorf("create preset table %q: %w", preset.Name, err)
		}
		logger.Info("created preset table", "name", preset.Name, "tableId", created.TableID)
	}
	return nil
}
