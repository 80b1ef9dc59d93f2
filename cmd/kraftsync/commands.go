package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/RMMwalali/kraftbasic-sub001/internal/auth"
	"github.com/RMMwalali/kraftbasic-sub001/internal/backend"
	"github.com/RMMwalali/kraftbasic-sub001/internal/logging"
	"github.com/RMMwalali/kraftbasic-sub001/internal/models"
	"github.com/RMMwalali/kraftbasic-sub001/internal/remote"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the drain loop, health prober and event websocket until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			svc.Start(ctx)
			logging.Info("kraftsync running", logging.Fields{"version": Version, "pending": svc.Outbox.Len()})
			<-ctx.Done()
			logging.Info("shutting down", nil)
			return nil
		},
	}
}

func newDrainCmd(opts *rootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Run one drain pass and print the result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			svc, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer svc.Close()

			if svc.Prober != nil {
				svc.Prober.Probe(ctx)
			}
			return writeYAML(cmd.OutOrStdout(), svc.Drain(ctx))
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "bound for the whole pass")
	return cmd
}

// itemView is the printable form of an outbox item.
type itemView struct {
	ID            string    `yaml:"id"`
	Operation     string    `yaml:"operation"`
	EntityType    string    `yaml:"entity_type"`
	EntityID      string    `yaml:"entity_id,omitempty"`
	Payload       string    `yaml:"payload,omitempty"`
	EnqueuedAt    time.Time `yaml:"enqueued_at"`
	RetryCount    int       `yaml:"retry_count"`
	NextAttemptAt time.Time `yaml:"next_attempt_at,omitempty"`
	LastError     string    `yaml:"last_error,omitempty"`
}

func viewOf(item models.OutboxItem) itemView {
	return itemView{
		ID:            item.ID,
		Operation:     string(item.Operation),
		EntityType:    string(item.EntityType),
		EntityID:      item.EntityID,
		Payload:       string(item.Payload),
		EnqueuedAt:    item.EnqueuedAt,
		RetryCount:    item.RetryCount,
		NextAttemptAt: item.NextAttemptAt,
		LastError:     item.LastError,
	}
}

func newOutboxCmd(opts *rootOptions) *cobra.Command {
	outbox := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect queued writes",
	}
	outbox.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print queued writes in drain order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			items := svc.Outbox.Snapshot()
			views := make([]itemView, 0, len(items))
			for _, item := range items {
				views = append(views, viewOf(item))
			}
			return writeYAML(cmd.OutOrStdout(), views)
		},
	})
	outbox.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Print outbox counters",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()
			return writeYAML(cmd.OutOrStdout(), svc.OutboxStats())
		},
	})
	return outbox
}

type letterView struct {
	Reason    string    `yaml:"reason"`
	DroppedAt time.Time `yaml:"dropped_at"`
	Item      itemView  `yaml:"item"`
}

func newDeadLetterCmd(opts *rootOptions) *cobra.Command {
	dl := &cobra.Command{
		Use:     "deadletter",
		Aliases: []string{"dl"},
		Short:   "Inspect and requeue dropped writes",
	}
	dl.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print persisted dead letters, oldest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			letters, err := svc.DeadLetters.List(cmd.Context())
			if err != nil {
				return err
			}
			views := make([]letterView, 0, len(letters))
			for _, l := range letters {
				views = append(views, letterView{Reason: l.Reason, DroppedAt: l.DroppedAt, Item: viewOf(l.Item)})
			}
			return writeYAML(cmd.OutOrStdout(), views)
		},
	})
	dl.AddCommand(&cobra.Command{
		Use:   "requeue <id>",
		Short: "Move a dead letter back into the outbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			if err := svc.Requeue(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %s\n", args[0])
			return nil
		},
	})
	return dl
}

func newCacheCmd(opts *rootOptions) *cobra.Command {
	c := &cobra.Command{
		Use:   "cache",
		Short: "Manage the local cache",
	}
	c.AddCommand(&cobra.Command{
		Use:   "clear <entity-type>",
		Short: "Remove every cached record of one entity type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			et, err := models.ParseEntityType(args[0])
			if err != nil {
				return err
			}
			svc, err := opts.open(cmd.Context())
			if err != nil {
				return err
			}
			defer svc.Close()

			n, err := svc.Cache.Clear(cmd.Context(), et.Namespace())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cleared %d %s records\n", n, et)
			return nil
		},
	})
	return c
}

func newBackendCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "backend",
		Short: "Serve the in-memory reference REST backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Backend.Addr
			}
			var jwt *auth.JWTAuth
			if cfg.Remote.JWTSecret != "" {
				jwt = auth.NewJWTAuth(cfg.Remote.JWTSecret)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return backend.New(remote.NewMemoryBackend(), jwt).Run(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default backend.addr)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kraftsync %s\n", Version)
		},
	}
}
