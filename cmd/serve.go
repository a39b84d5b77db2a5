package cmd

import (
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/BERNARDO31P/Password-Safe/internal/server"
	"github.com/BERNARDO31P/Password-Safe/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Password-Safe HTTP server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Int("port", 7657, "Port to listen on")
	serveCmd.Flags().Bool("dev", false, "Development mode")
	serveCmd.Flags().String("db", "password-safe.db", "Path to SQLite database file")
	serveCmd.Flags().String("config", "", "Path to config file (optional)")
	rootCmd.AddCommand(serveCmd)
}

// serveConfig resolves settings in precedence order: flags, then
// PASSWORDSAFE_* environment variables, then the optional config file.
func serveConfig(cmd *cobra.Command) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("passwordsafe")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for _, name := range []string{"port", "dev", "db"} {
		if err := v.BindPFlag(name, cmd.Flags().Lookup(name)); err != nil {
			return nil, fmt.Errorf("binding flag %s: %w", name, err)
		}
	}

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}
	return v, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	v, err := serveConfig(cmd)
	if err != nil {
		return err
	}

	st, err := store.NewSQLiteStore(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("database init: %w", err)
	}

	srv := server.New(server.Config{
		Port: v.GetInt("port"),
		Dev:  v.GetBool("dev"),
	}, st)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	// Close database after server has fully stopped.
	if err := st.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	} else {
		slog.Info("database closed")
	}

	return nil
}
