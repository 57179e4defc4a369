package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	cmdUtil "github.com/ValentinKolb/pKV/cmd/util"
	"github.com/ValentinKolb/pKV/rpc/common"
	"github.com/ValentinKolb/pKV/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = common.DefaultServerConfig()
	ServeCmd       = &cobra.Command{
		Use:   "serve",
		Short: "Start the pKV server",
		Long: `Start the pKV server with the specified configuration. The configuration can be set via command line flags, environment variables or a TOML config file (see "pkv config init").
The format of the environment variables is PKV_<flag> (e.g. PKV_MAX_CONNECTIONS=64). Flags take precedence over environment variables, which take precedence over the config file.`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(cmdUtil.InitConfig)

	defaults := common.DefaultServerConfig()

	// add flags
	key := "config"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Path of a TOML config file"))

	key = "endpoint"
	ServeCmd.PersistentFlags().String(key, defaults.Transport.Endpoint, cmdUtil.WrapString("The address on which the server will listen (e.g. 0.0.0.0:9527, /tmp/pkv.sock, ...)"))

	key = "max-connections"
	ServeCmd.PersistentFlags().Int(key, defaults.Transport.MaxConnections, cmdUtil.WrapString("Maximum number of concurrent connections (0 = unlimited)"))

	key = "max-streams"
	ServeCmd.PersistentFlags().Int(key, defaults.Mux.MaxStreams, cmdUtil.WrapString("Maximum number of concurrent streams per connection"))

	key = "stream-open-timeout"
	ServeCmd.PersistentFlags().Duration(key, defaults.Mux.StreamOpenTimeout, cmdUtil.WrapString("How long a new stream may wait for its acknowledgement"))

	key = "engine"
	ServeCmd.PersistentFlags().String(key, string(defaults.Storage.Engine), cmdUtil.WrapString("Storage engine (maple = in memory, badger = on disk)"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, defaults.Storage.DataDir, cmdUtil.WrapString("Directory of the badger engine"))

	key = "delivery-buffer"
	ServeCmd.PersistentFlags().Int(key, defaults.PubSub.DeliveryBuffer, cmdUtil.WrapString("Notifications buffered per subscriber before new ones are dropped"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, defaults.LogLevel, cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	cmdUtil.SetupSecurityFlags(ServeCmd, defaults.Security)
	cmdUtil.SetupFrameFlags(ServeCmd, defaults.Frame)
}

// processConfig reads the configuration from the command line flags, environment variables and config file and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	if path := viper.GetString("config"); path != "" {
		viper.SetConfigFile(path)
		viper.SetConfigType("toml")
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	serveCmdConfig = cmdUtil.ServerConfigFrom(viper.GetViper())
	if err := serveCmdConfig.Validate(); err != nil {
		return err
	}

	return common.InitLoggers(serveCmdConfig.LogLevel)
}

// run starts the pKV server and stops it on SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}

	t, err := cmdUtil.GetServerTransport(serveCmdConfig.Transport.Kind)
	if err != nil {
		return err
	}

	serv, err := server.NewRPCServer(serveCmdConfig, t, s)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-serv.Ready()
		server.Logger.Infof("pKV server listening on %s", serv.Addr())
	}()

	if err := serv.Serve(ctx); err != nil {
		return err
	}
	server.Logger.Infof("pKV server stopped")
	return nil
}
