package pubsub

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ValentinKolb/pKV/cmd/util"
	"github.com/ValentinKolb/pKV/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcPubSub client.IPubSub

	// PubSubCommands represents the pub/sub command group
	PubSubCommands = &cobra.Command{
		Use:                "pubsub",
		Short:              "Publish to and subscribe to topics",
		PersistentPreRunE:  setupPubSubClient,
		PersistentPostRunE: closePubSubClient,
	}

	publishCmd = &cobra.Command{
		Use:   "publish [topic] [payload]",
		Short: "Publishes a payload to every subscriber of a topic",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			delivered, err := rpcPubSub.Publish(args[0], []byte(args[1]))
			if err != nil {
				return err
			}
			fmt.Printf("topic=%s, delivered=%d\n", args[0], delivered)
			return nil
		},
	}

	subscribeCmd = &cobra.Command{
		Use:   "subscribe [topic]...",
		Short: "Prints the notifications of one or more topics until interrupted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sub, err := rpcPubSub.Subscribe(ctx, args[0])
			if err != nil {
				return err
			}
			defer sub.Close()

			for _, topic := range args[1:] {
				if _, err := sub.Subscribe(topic); err != nil {
					return err
				}
			}
			fmt.Fprintf(os.Stderr, "subscribed to %v (id %s)\n", args, sub.ID())

			for {
				select {
				case n, ok := <-sub.Messages():
					if !ok {
						if err := sub.Err(); err != nil {
							return fmt.Errorf("subscription ended: %w", err)
						}
						return nil
					}
					fmt.Printf("topic=%s, payload=%s\n", n.Topic, n.Payload)
				case <-ctx.Done():
					return nil
				}
			}
		},
	}

	unsubscribeCmd = &cobra.Command{
		Use:   "unsubscribe [topic] [subscription-id]",
		Short: "Removes a subscription from a topic by its id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			removed, err := rpcPubSub.UnsubscribeByID(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("topic=%s, id=%s, removed=%t\n", args[0], args[1], removed)
			return nil
		},
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// subscriptions are long lived, the timeout bounds the commands only
	util.SetupRPCClientFlags(PubSubCommands)

	PubSubCommands.AddCommand(publishCmd)
	PubSubCommands.AddCommand(subscribeCmd)
	PubSubCommands.AddCommand(unsubscribeCmd)
}

// setupPubSubClient initializes the RPC pub/sub client
func setupPubSubClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	s, err := util.GetSerializer()
	if err != nil {
		return err
	}

	t, err := util.GetTransport()
	if err != nil {
		return err
	}

	rpcPubSub, err = client.NewRPCPubSub(*util.GetClientConfig(), t, s)
	return err
}

func closePubSubClient(_ *cobra.Command, _ []string) error {
	if rpcPubSub == nil {
		return nil
	}
	return rpcPubSub.Close()
}
