package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ashureev/polly/internal/domain"
	"github.com/ashureev/polly/internal/shared"
	"github.com/ashureev/polly/internal/store"
)

const commandTimeout = 30 * time.Second

// options is the root command. The struct tags are interpreted by
// github.com/jessevdk/go-flags.
type options struct {
	Driver string `long:"driver" env:"STORE_DRIVER" default:"sqlite" choice:"sqlite" choice:"memory" description:"turn store driver"`
	DBPath string `long:"db" env:"DB_PATH" default:"./data/polly.db" description:"SQLite database path"`

	Show    showCmd    `command:"show" description:"Print one stored conversation"`
	List    listCmd    `command:"list" description:"List stored conversations for a scenario"`
	Restore restoreCmd `command:"restore" description:"Replace a conversation with turns from a JSON file"`

	out io.Writer
}

func newOptions(out io.Writer) *options {
	o := &options{out: out}
	o.Show.root = o
	o.List.root = o
	o.Restore.root = o
	return o
}

// withStore opens the configured store for the duration of fn.
func (o *options) withStore(fn func(ctx context.Context, ts store.TurnStore) error) error {
	ts, err := store.Open(o.Driver, o.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = ts.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	return fn(ctx, ts)
}

type keyFlags struct {
	Scenario string `long:"scenario" required:"true" description:"scenario id"`
	Student  string `long:"student" required:"true" description:"student id (room.<name> for legacy rooms)"`
}

func (k keyFlags) key() domain.ConversationKey {
	return domain.ConversationKey{ScenarioID: k.Scenario, StudentID: k.Student}
}

type showCmd struct {
	keyFlags
	JSON bool `long:"json" description:"print the turns as a JSON array accepted by restore"`

	root *options
}

func (c *showCmd) Execute([]string) error {
	return c.root.withStore(func(ctx context.Context, ts store.TurnStore) error {
		h, err := ts.Get(ctx, c.key())
		if err != nil {
			return err
		}
		if c.JSON {
			enc := json.NewEncoder(c.root.out)
			enc.SetIndent("", "  ")
			return enc.Encode(h.Turns)
		}

		fmt.Fprintf(c.root.out, "%s (%d turns, updated %s)\n", h.Key, h.Len(), h.UpdatedAt.Format(time.RFC3339))
		for i, t := range h.Turns {
			label := string(t.Role)
			if t.Kind != domain.KindMessage {
				label += "/" + string(t.Kind)
			}
			fmt.Fprintf(c.root.out, "%3d [%s] %s\n", i, label, t.Content)
		}
		return nil
	})
}

type listCmd struct {
	Scenario string `long:"scenario" required:"true" description:"scenario id"`

	root *options
}

func (c *listCmd) Execute([]string) error {
	return c.root.withStore(func(ctx context.Context, ts store.TurnStore) error {
		sums, err := ts.List(ctx, c.Scenario)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(c.root.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "STUDENT\tTURNS\tUPDATED")
		for _, s := range sums {
			fmt.Fprintf(tw, "%s\t%d\t%s\n", s.StudentID, s.TurnCount, s.UpdatedAt.Format(time.RFC3339))
		}
		return tw.Flush()
	})
}

type restoreCmd struct {
	keyFlags
	File string `long:"file" required:"true" description:"JSON array of turns"`

	root *options
}

func (c *restoreCmd) Execute([]string) error {
	turns, err := readTurns(c.File)
	if err != nil {
		return err
	}
	return c.root.withStore(func(ctx context.Context, ts store.TurnStore) error {
		if err := ts.Replace(ctx, c.key(), turns); err != nil {
			return err
		}
		fmt.Fprintf(c.root.out, "restored %d turns to %s\n", len(turns), c.key())
		return nil
	})
}

func readTurns(path string) ([]domain.Turn, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read turns: %w", err)
	}
	var turns []domain.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("decode turns: %w", err)
	}
	for i, t := range turns {
		if err := shared.ValidateStruct(t); err != nil {
			return nil, fmt.Errorf("turn %d: %w", i, err)
		}
	}
	return turns, nil
}
