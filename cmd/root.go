package cmd

import (
	"fmt"
	"os"

	"github.com/ValentinKolb/pKV/cmd/config"
	"github.com/ValentinKolb/pKV/cmd/kv"
	"github.com/ValentinKolb/pKV/cmd/pubsub"
	"github.com/ValentinKolb/pKV/cmd/serve"
	"github.com/ValentinKolb/pKV/cmd/util"
	"github.com/ValentinKolb/pKV/rpc/common"
	"github.com/ValentinKolb/pKV/rpc/serializer"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "pkv",
		Short: "secured, multiplexed key-value store with pub/sub",
		Long: fmt.Sprintf(`pKV (v%s)

A key-value store with topic based publish/subscribe. Clients reach the
server over tcp, unix sockets or quic. Every connection is secured (noise
or tls) and carries many concurrent streams.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of pKV",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("pKV v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(pubsub.PubSubCommands)
	RootCmd.AddCommand(config.ConfigCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "serializer"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString(fmt.Sprintf("serializer to use (%v), client and server must agree", serializer.Names)))
	key = "transport"
	RootCmd.PersistentFlags().String(key, string(common.TransportTCP), util.WrapString("transport to use (tcp, unix, quic)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
