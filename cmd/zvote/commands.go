package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"zvote/internal/config"
	"zvote/internal/node"
	"zvote/models"
	"zvote/proposals"
	"zvote/service"
)

// withNode builds a node for a one-shot command. In devnet mode the ledger
// lives only for the duration of the command.
func withNode(cmd *cobra.Command, fn func(ctx context.Context, n *node.Node) error) error {
	cfg := configFrom(cmd)
	logger := commonRun(cfg)
	n, err := node.New(cmd.Context(), cfg, logger, nil)
	if err != nil {
		return err
	}
	defer n.Close()
	return fn(cmd.Context(), n)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(arg string) (uint64, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid proposal id %q", arg)
	}
	return id, nil
}

func proposalsCommand() *cobra.Command {
	var (
		status   string
		page     int
		pageSize int
		asc      bool
	)
	cmd := &cobra.Command{
		Use:   "proposals",
		Short: "List proposals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := service.ParseStatusFilter(status)
			if err != nil {
				return err
			}
			order := proposals.OrderNewestFirst
			if asc {
				order = proposals.OrderAscending
			}
			return withNode(cmd, func(ctx context.Context, n *node.Node) error {
				list, err := n.Service.ListProposals(ctx, service.ListOptions{
					Status:   filter,
					Order:    order,
					Page:     page,
					PageSize: pageSize,
				})
				if err != nil {
					return err
				}
				return printJSON(list)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "all", "all, active or closed")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "proposals per page (default from config)")
	cmd.Flags().BoolVar(&asc, "asc", false, "oldest first")
	return cmd
}

func showCommand() *cobra.Command {
	var viewer string
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withNode(cmd, func(ctx context.Context, n *node.Node) error {
				var who *common.Address
				if viewer != "" {
					addr, err := service.ParseAccount(viewer)
					if err != nil {
						return err
					}
					who = &addr
				} else if addr, ok := n.Service.Account(); ok {
					who = &addr
				}
				view, err := n.Service.GetProposalView(ctx, id, who)
				if err != nil {
					return err
				}
				return printJSON(view)
			})
		},
	}
	cmd.Flags().StringVar(&viewer, "viewer", "", "address whose vote status to show")
	return cmd
}

func createCommand() *cobra.Command {
	var (
		description string
		amount      int
		unit        string
	)
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			duration, err := service.ParseDuration(amount, unit)
			if err != nil {
				return err
			}
			return withNode(cmd, func(ctx context.Context, n *node.Node) error {
				receipt, err := n.Service.CreateProposal(ctx, args[0], description, duration)
				if err != nil {
					return err
				}
				return printJSON(receipt)
			})
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "proposal description")
	cmd.Flags().IntVar(&amount, "duration", 1, "voting period length")
	cmd.Flags().StringVar(&unit, "unit", "days", "minutes, hours or days")
	return cmd
}

func voteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "vote <id> <yes|no>",
		Short: "Cast an encrypted vote",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			choice, err := models.ParseChoice(args[1])
			if err != nil {
				return err
			}
			return withNode(cmd, func(ctx context.Context, n *node.Node) error {
				receipt, err := n.Service.CastVote(ctx, id, choice)
				if err != nil {
					return err
				}
				return printJSON(receipt)
			})
		},
	}
}

func decryptCommand() *cobra.Command {
	var (
		force    bool
		expected int64
	)
	cmd := &cobra.Command{
		Use:   "decrypt <id>",
		Short: "Decrypt the results of a closed proposal you created",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			var expectedTotal *uint64
			if expected >= 0 {
				v := uint64(expected)
				expectedTotal = &v
			}
			return withNode(cmd, func(ctx context.Context, n *node.Node) error {
				res, err := n.Service.DecryptResults(ctx, id, force, expectedTotal)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "decrypt again even if a result is cached")
	cmd.Flags().Int64Var(&expected, "expected-total", -1, "fail unless yes+no equals this count")
	return cmd
}

func myVotesCommand() *cobra.Command {
	var voter string
	cmd := &cobra.Command{
		Use:   "my-votes",
		Short: "List proposals an account has voted on",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withNode(cmd, func(ctx context.Context, n *node.Node) error {
				addr, ok := n.Service.Account()
				if voter != "" {
					parsed, err := service.ParseAccount(voter)
					if err != nil {
						return err
					}
					addr, ok = parsed, true
				}
				if !ok {
					return fmt.Errorf("no account configured; pass --voter")
				}
				votes, err := n.Service.MyVotes(ctx, addr)
				if err != nil {
					return err
				}
				return printJSON(votes)
			})
		},
	}
	cmd.Flags().StringVar(&voter, "voter", "", "address to scan (default: configured account)")
	return cmd
}

func watchCommand() *cobra.Command {
	var proposalID uint64
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow VoteCast events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd)
			if cfg.Ledger == config.LedgerDevnet {
				return fmt.Errorf("watch needs the rpc ledger; a devnet ledger exists only inside its own process")
			}
			counts := make(map[uint64]int)
			return withNode(cmd, func(ctx context.Context, n *node.Node) error {
				ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
				defer stop()
				return n.Service.Watch(ctx, func(u service.VoteUpdate) {
					if proposalID != 0 && u.Event.ProposalID != proposalID {
						return
					}
					counts[u.Event.ProposalID]++
					_ = printJSON(struct {
						ProposalID uint64           `json:"proposalId"`
						Voter      string           `json:"voter"`
						TxHash     string           `json:"txHash"`
						NewVotes   int              `json:"newVotes"`
						Proposal   *models.Proposal `json:"proposal,omitempty"`
					}{u.Event.ProposalID, u.Event.Voter.Hex(), u.Event.TxHash.Hex(), counts[u.Event.ProposalID], u.Proposal})
				})
			})
		},
	}
	cmd.Flags().Uint64Var(&proposalID, "proposal", 0, "only report this proposal")
	return cmd
}
