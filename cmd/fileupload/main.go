package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/bitrise-io/go-fileupload/upload"
	"github.com/bitrise-io/go-fileupload/upload/network/chunkuploader"
	"github.com/bitrise-io/go-steputils/v2/stepconf"
	"github.com/bitrise-io/go-utils/v2/command"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

const (
	exitCompleted = 0
	exitFailed    = 1
	exitCancelled = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := log.NewLogger()
	envRepo := env.NewRepository()

	var input upload.Input
	if err := stepconf.NewInputParser(envRepo).Parse(&input); err != nil {
		logger.Errorf("Failed to parse inputs: %s", err)
		return exitFailed
	}
	stepconf.Print(input)
	logger.EnableDebugLog(input.Verbose)

	config, err := upload.NewConfig(input)
	if err != nil {
		logger.Errorf("Invalid inputs: %s", err)
		return exitFailed
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	token := chunkuploader.NewCancelToken()
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	go watchSignals(signals, token, cancel, logger)

	sender := upload.NewSender(envRepo, logger, command.NewFactory(envRepo), nil, nil)
	outcome, err := sender.Send(ctx, config, token)
	if err != nil {
		logger.Debugf("Send error: %+v", err)
	}

	return exitCode(outcome.State)
}

// watchSignals requests a cooperative cancellation on the first signal and aborts in-flight requests on the second.
func watchSignals(signals <-chan os.Signal, token *chunkuploader.CancelToken, cancel context.CancelFunc, logger log.Logger) {
	sig, ok := <-signals
	if !ok {
		return
	}
	logger.Warnf("Received %s, the upload stops after the current chunk. Send it again to abort immediately.", sig)
	token.Cancel()

	sig, ok = <-signals
	if !ok {
		return
	}
	logger.Warnf("Received %s again, aborting", sig)
	cancel()
}

func exitCode(state chunkuploader.State) int {
	switch state {
	case chunkuploader.StateCompleted:
		return exitCompleted
	case chunkuploader.StateCancelled:
		return exitCancelled
	default:
		return exitFailed
	}
}
