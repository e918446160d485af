package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/42wim/autoacceptd/autoaccept"
	"github.com/42wim/autoacceptd/bridge/matrix"
	"github.com/42wim/autoacceptd/config"
	"github.com/google/gops/agent"
	prefixed "github.com/matterbridge/logrus-prefixed-formatter"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var version = "0.1.0"

var logger *logrus.Entry

func main() {
	flagConfig := pflag.String("conf", "autoacceptd.toml", "config file")
	flagDebug := pflag.Bool("debug", false, "enable debug logging")
	flagTrace := pflag.Bool("trace", false, "enable trace logging")
	flagGops := pflag.Bool("gops", false, "enable gops agent")
	flagVersion := pflag.Bool("version", false, "show version")
	pflag.Parse()

	if *flagVersion {
		fmt.Printf("version: %s\n", version)
		return
	}

	ourlog := logrus.New()
	ourlog.SetFormatter(&prefixed.TextFormatter{
		PrefixPadding: 14,
		FullTimestamp: true,
	})
	logger = ourlog.WithFields(logrus.Fields{"prefix": "main"})
	config.Logger = ourlog.WithFields(logrus.Fields{"prefix": "config"})
	autoaccept.SetLogger(ourlog.WithFields(logrus.Fields{"prefix": "autoaccept"}))

	v, err := config.LoadConfig(*flagConfig)
	if err != nil {
		logger.Fatal(err)
	}

	if *flagDebug {
		v.Set("debug", true)
	}

	if *flagTrace {
		v.Set("trace", true)
	}

	if v.GetBool("debug") {
		logger.Info("enabling debug")
		ourlog.SetLevel(logrus.DebugLevel)
	}

	if v.GetBool("trace") {
		logger.Info("enabling trace")
		ourlog.SetLevel(logrus.TraceLevel)
	}

	if *flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			logger.Error(err)
		}
	}

	logger.Infof("Running version %s", version)

	if err := run(v); err != nil {
		logger.Fatal(err)
	}
}

func run(v *viper.Viper) error {
	cfg, err := autoaccept.ParseConfig(config.AutoAccept(v))
	if err != nil {
		return err
	}

	m, err := matrix.New(v, config.Credentials(v))
	if err != nil {
		return err
	}

	ledger, err := matrix.OpenLedger(v.GetString("statedb"))
	if err != nil {
		return fmt.Errorf("opening %s: %w", v.GetString("statedb"), err)
	}
	defer ledger.Close()

	if removed, err := ledger.Prune(time.Now().Add(-v.GetDuration("transactionretention"))); err != nil {
		logger.Errorf("pruning transaction ledger: %s", err)
	} else {
		logger.Debugf("pruned %d old transaction(s)", removed)
	}

	accepter := autoaccept.New(cfg, m)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

	srv, err := newHTTPServer(v, matrix.NewTransactionServer(m, ledger), hup)
	if err != nil {
		return err
	}

	errChan := make(chan error, 1)

	go func() {
		logger.Infof("Listening on %s", srv.Addr)

		if srv.TLSConfig != nil {
			errChan <- srv.ListenAndServeTLS("", "")
			return
		}

		errChan <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-quit:
		logger.Infof("Received %s, shutting down", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("shutdown: %s", err)
	}

	logger.Info("waiting for pending joins")
	accepter.Wait()

	return nil
}
