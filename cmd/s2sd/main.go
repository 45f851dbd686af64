// Copyright 2020 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

// Command s2sd is a diagnostic CLI around the outgoing server-to-server
// session engine: it authenticates a single domain pair using the same
// Config/Engine wiring a long-running process would use, then reports the
// resulting session or failure.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xmppd/s2sd/jid"
	"github.com/xmppd/s2sd/s2s"
)

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "s2sd",
		Short: "outgoing XMPP server-to-server session diagnostics",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./s2sd.yaml)")
	root.AddCommand(newDialCmd())
	return root
}

func newDialCmd() *cobra.Command {
	var (
		local   string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "dial [remote-domain]",
		Short: "authenticate an outgoing session to remote-domain and report the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(local)
			if err != nil {
				return err
			}

			log, err := newLogger()
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			engine := s2s.NewEngine(cfg, log, nil, nil)
			defer func() { _ = engine.Close() }()

			pair, err := jid.NewDomainPair(cfg.LocalDomain, args[0])
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			ok := engine.Authenticate(ctx, pair, nil)
			snap := engine.Stats()
			fmt.Printf("authenticated=%v attempts=%d sasl=%d dialback=%d failures=%d\n",
				ok, snap.Attempts, snap.SuccessSASL, snap.SuccessDialback, snap.Failures)
			if !ok {
				return fmt.Errorf("s2sd: failed to authenticate %s", args[0])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&local, "local-domain", "", "local domain to assert as 'from' (overrides config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall deadline for the attempt")
	return cmd
}

func newLogger() (*zap.Logger, error) {
	if viper.GetBool("log.development") {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// loadConfig binds xmpp.server.* keys from the config file and environment
// (XMPP_SERVER_* after viper's automatic key-replacer) into a s2s.Config,
// applying cliLocalDomain as an override for --local-domain.
func loadConfig(cliLocalDomain string) (s2s.Config, error) {
	v := viper.New()
	v.SetConfigName("s2sd")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("xmpp.server.socket.remotePort", 0)
	v.SetDefault("xmpp.server.tls.certificate.verify", true)
	v.SetDefault("xmpp.server.dialback.enabled", true)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return s2s.Config{}, err
		}
	}

	cfg := s2s.Config{
		LocalDomain:           v.GetString("xmpp.server.local-domain"),
		RemotePort:            v.GetInt("xmpp.server.socket.remotePort"),
		VerifyCertificate:     v.GetBool("xmpp.server.tls.certificate.verify"),
		AcceptSelfSigned:      v.GetBool("xmpp.server.tls.certificate.accept-selfsigned"),
		StrictCertValidation:  v.GetBool("xmpp.server.strictCertificateValidation"),
		DialbackEnabled:       v.GetBool("xmpp.server.dialback.enabled"),
		DialbackForSelfSigned: v.GetBool("xmpp.server.dialback.for-selfsigned"),
		DialbackSecret:        v.GetString("xmpp.server.dialback.secret"),
		ReadTimeout:           v.GetDuration("xmpp.server.socket.read-timeout"),
		StreamOpenTimeout:     v.GetDuration("xmpp.server.socket.stream-open-timeout"),
		DetachGrace:           v.GetDuration("xmpp.server.session.detach-grace"),
		AllowPlainFallbackOnPlaintextDetection: v.GetBool("xmpp.server.tls.on.plain.detection.allow.nondirecttls.fallback"),
	}
	if cliLocalDomain != "" {
		cfg.LocalDomain = cliLocalDomain
	}
	if v.GetBool("xmpp.server.tls.required") {
		cfg.TLSPolicy = s2s.TLSRequired
	} else if v.IsSet("xmpp.server.tls.disabled") && v.GetBool("xmpp.server.tls.disabled") {
		cfg.TLSPolicy = s2s.TLSDisabled
	} else {
		cfg.TLSPolicy = s2s.TLSOptional
	}
	return cfg, nil
}
