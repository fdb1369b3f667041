package main

import (
	"context"
	"fmt"

	"github.com/loykin/streamwatch"
	"github.com/loykin/streamwatch/internal/store"
	"github.com/loykin/streamwatch/internal/store/factory"
)

// Target commands operate on the state store directly so they work whether or
// not the daemon is running; a running daemon sees changes on its next pass.

func (c command) openStore(configPath string) (store.Store, error) {
	cfg, err := streamwatch.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	st, err := factory.NewFromDSN(cfg.StoreDSN)
	if err != nil {
		return nil, err
	}
	if err := st.EnsureSchema(context.Background()); err != nil {
		_ = st.Close()
		return nil, err
	}
	return st, nil
}

func (c command) TargetAdd(f TargetAddFlags) error {
	if f.Address == "" {
		return fmt.Errorf("--address is required")
	}
	st, err := c.openStore(f.ConfigPath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	name := f.Name
	if name == "" {
		name = f.Address
	}
	id, err := st.AddTarget(context.Background(), store.Target{
		Address: f.Address,
		Name:    name,
		Quality: f.Quality,
		Enabled: !f.Disabled,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "added target %d (%s)\n", id, name)
	return nil
}

func (c command) TargetList(f TargetFlags) error {
	st, err := c.openStore(f.ConfigPath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	targets, err := st.ListTargets(context.Background())
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		fmt.Fprintln(c.out, "no targets")
		return nil
	}
	for _, t := range targets {
		state := "enabled"
		if !t.Enabled {
			state = "disabled"
		}
		quality := t.Quality
		if quality == "" {
			quality = "(default)"
		}
		fmt.Fprintf(c.out, "[%d] %-8s %-20s quality=%-10s %s\n", t.ID, state, t.Name, quality, t.Address)
	}
	return nil
}

func (c command) TargetSetEnabled(f TargetFlags, enabled bool) error {
	if f.TargetID <= 0 {
		return fmt.Errorf("target id must be a positive integer")
	}
	st, err := c.openStore(f.ConfigPath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	if err := st.SetTargetEnabled(context.Background(), f.TargetID, enabled); err != nil {
		return err
	}
	state := "enabled"
	if !enabled {
		state = "disabled"
	}
	fmt.Fprintf(c.out, "target %d %s\n", f.TargetID, state)
	return nil
}
