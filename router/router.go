package router

import (
	"context"
	"fmt"
	"secure-ledger/handler"
	"secure-ledger/service"

	"github.com/spf13/cobra"
)

// Booter wires the application from the configuration at configPath. The
// returned cleanup releases everything it opened.
type Booter func(ctx context.Context, configPath string) (*handler.ConsoleHandler, func(), error)

type sessionAction func(ctx context.Context, h *handler.ConsoleHandler, session *service.Session, args []string) error

// NewRouter builds the ledger command tree.
func NewRouter(boot Booter) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "ledger",
		Short:         "Teller console for the secure account ledger",
		Long:          "Run without a subcommand for the interactive menu.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
	}
	root.PersistentFlags().StringVar(&configPath, "config", ".", "directory containing config.yml")

	// withSession boots the application, logs the operator in and runs fn.
	withSession := func(fn sessionAction) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			h, cleanup, err := boot(ctx, configPath)
			if err != nil {
				return fmt.Errorf("startup failed: %w", err)
			}
			defer cleanup()

			session, err := h.Login(ctx)
			if err != nil {
				return h.HandleError(ctx, nil, err)
			}
			return h.HandleError(ctx, session, fn(ctx, h, session, args))
		}
	}

	root.RunE = withSession(func(ctx context.Context, h *handler.ConsoleHandler, s *service.Session, _ []string) error {
		return h.RunMenu(ctx, s)
	})

	root.AddCommand(&cobra.Command{
		Use:   "open",
		Short: "Open a new account",
		Args:  cobra.NoArgs,
		RunE: withSession(func(ctx context.Context, h *handler.ConsoleHandler, s *service.Session, _ []string) error {
			return h.OpenAccount(ctx, s)
		}),
	})

	root.AddCommand(&cobra.Command{
		Use:   "view <account-no>",
		Short: "Show an account and its balance",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(ctx context.Context, h *handler.ConsoleHandler, s *service.Session, args []string) error {
			return h.ViewAccount(ctx, s, args[0])
		}),
	})

	root.AddCommand(newMovementCommand("lodge", "Lodge money into an account", withSession,
		func(h *handler.ConsoleHandler) movement { return h.Lodge }))
	root.AddCommand(newMovementCommand("withdraw", "Withdraw money from an account", withSession,
		func(h *handler.ConsoleHandler) movement { return h.Withdraw }))

	root.AddCommand(&cobra.Command{
		Use:   "close <account-no>",
		Short: "Close an account (requires administrator approval)",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(ctx context.Context, h *handler.ConsoleHandler, s *service.Session, args []string) error {
			return h.CloseAccount(ctx, s, args[0])
		}),
	})

	root.AddCommand(newUsersCommand(boot, &configPath))
	return root
}

type movement func(ctx context.Context, session *service.Session, accountNo, amount, reason string) error

func newMovementCommand(name, short string, withSession func(sessionAction) func(*cobra.Command, []string) error, pick func(*handler.ConsoleHandler) movement) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   name + " <account-no> <amount>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: withSession(func(ctx context.Context, h *handler.ConsoleHandler, s *service.Session, args []string) error {
			return pick(h)(ctx, s, args[0], args[1], reason)
		}),
	}
	cmd.Flags().StringVar(&reason, "reason", "", "justification, required above the materiality threshold")
	return cmd
}

func newUsersCommand(boot Booter, configPath *string) *cobra.Command {
	users := &cobra.Command{
		Use:   "users",
		Short: "Manage the identity directory",
	}

	var groups []string
	add := &cobra.Command{
		Use:   "add <username>",
		Short: "Add an operator to the identity directory",
		Long:  "The first user can be added to an empty directory directly. After that an operator must log in, and a non-administrator needs an administrator's approval.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			h, cleanup, err := boot(ctx, *configPath)
			if err != nil {
				return fmt.Errorf("startup failed: %w", err)
			}
			defer cleanup()
			return h.HandleError(ctx, nil, h.AddUser(ctx, args[0], groups))
		},
	}
	add.Flags().StringSliceVar(&groups, "group", []string{"Bank Teller"}, "group membership (repeatable)")
	users.AddCommand(add)
	return users
}
