package main

import (
	"context"
	"fmt"
	"os"

	"salesync/internal/app"
	"salesync/internal/config"
	"salesync/internal/queue"
	"salesync/internal/service"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newPopulateCommand(opts *rootOptions) *cobra.Command {
	var (
		day  string
		once bool
	)
	cmd := &cobra.Command{
		Use:   "populate <activity-id> <timeslot-id>",
		Short: "Load flash admission tickets from effective remaining stock",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			activityID, err := parseID(args[0], "activity id")
			if err != nil {
				return err
			}
			timeslotID, err := parseID(args[1], "timeslot id")
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, _ config.AppConfig, a *app.App, _ *zap.Logger) error {
				res, err := a.Engine.Flash.PopulateActivity(ctx, activityID, timeslotID, day, once)
				if err != nil {
					return err
				}
				return printJSON(cmd, res)
			})
		},
	}
	cmd.Flags().StringVar(&day, "day", "", "activity day yyyymmdd (default: today)")
	cmd.Flags().BoolVar(&once, "once", false, "keep lists that were already populated")
	return cmd
}

func newSweepCommand(opts *rootOptions) *cobra.Command {
	var groupsOnly bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one sweeper tick (group expiry, flash populate, window edges)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, _ config.AppConfig, a *app.App, _ *zap.Logger) error {
				if groupsOnly {
					rep, err := a.Engine.Sweeper.SweepGroups(ctx)
					if err != nil {
						return err
					}
					return printJSON(cmd, rep)
				}
				return a.Engine.Sweeper.RunOnce(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&groupsOnly, "groups-only", false, "only resolve expired group-buy instances")
	return cmd
}

func newRecomputeCommand(opts *rootOptions) *cobra.Command {
	var (
		productID  uint
		merchantID uint
	)
	cmd := &cobra.Command{
		Use:   "recompute",
		Short: "Recompute index rows of a product or of every product of a merchant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if (productID == 0) == (merchantID == 0) {
				return fmt.Errorf("exactly one of --product or --merchant is required")
			}
			return withApp(cmd, opts, func(ctx context.Context, _ config.AppConfig, a *app.App, log *zap.Logger) error {
				if productID != 0 {
					if err := a.Engine.Index.RecomputeProduct(ctx, productID); err != nil {
						return err
					}
					log.Info("product recomputed", zap.Uint("product_id", productID))
					return nil
				}
				n, err := a.Engine.Index.RecomputeMerchant(ctx, merchantID)
				if err != nil {
					return err
				}
				log.Info("merchant recomputed", zap.Uint("merchant_id", merchantID), zap.Int("products", n))
				return nil
			})
		},
	}
	cmd.Flags().UintVar(&productID, "product", 0, "product id")
	cmd.Flags().UintVar(&merchantID, "merchant", 0, "merchant id")
	return cmd
}

// newRelayCommand 一次性把待发送的 outbox 事件推到 Kafka。
func newRelayCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "relay",
		Short: "Publish pending outbox events once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, cfg config.AppConfig, a *app.App, log *zap.Logger) error {
				producer := queue.NewProducer(cfg.KafkaBrokers, cfg.EventTopic)
				defer producer.Close()
				relay := queue.NewRelay(a.Repo.Outbox, producer, cfg.RelayInterval, log)
				total := 0
				for {
					n, err := relay.Flush(ctx)
					total += n
					if err != nil {
						return err
					}
					if n == 0 {
						break
					}
				}
				log.Info("outbox drained", zap.Int("published", total))
				return nil
			})
		},
	}
}

// newEmitOrderCommand 把 JSON 文件中的订单行写入订单 topic，联调时模拟订单子系统。
func newEmitOrderCommand(opts *rootOptions) *cobra.Command {
	var refunded bool
	cmd := &cobra.Command{
		Use:   "emit-order <lines.json>",
		Short: "Publish an order committed/refunded message to the order topic",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			msg, err := buildOrderMessage(raw, refunded)
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			producer := queue.NewProducer(cfg.KafkaBrokers, cfg.OrderTopic)
			defer producer.Close()
			if err := producer.PublishOrder(cmd.Context(), msg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg.EventID)
			return nil
		},
	}
	cmd.Flags().BoolVar(&refunded, "refunded", false, "lines are refunds instead of commits")
	return cmd
}

func buildOrderMessage(raw []byte, refunded bool) (queue.OrderMessage, error) {
	msg := queue.OrderMessage{EventID: uuid.NewString(), Type: queue.OrderCommitted}
	var err error
	if refunded {
		msg.Type = queue.OrderRefunded
		msg.Refunded, err = decodeLines[service.RefundedLine](raw)
	} else {
		msg.Committed, err = decodeLines[service.CommittedLine](raw)
	}
	if err != nil {
		return queue.OrderMessage{}, err
	}
	return msg, msg.Validate()
}
