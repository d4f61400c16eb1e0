// scribe: upload file content into the on-chain key/value store, directly
// or through the fee-sponsoring relay.
// Commands: keygen, upload, check, balance, history.

package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"golang.org/x/term"

	"github.com/inkbound/scribe/internal/activity"
	"github.com/inkbound/scribe/internal/config"
	"github.com/inkbound/scribe/internal/content"
	"github.com/inkbound/scribe/internal/keyval"
	"github.com/inkbound/scribe/internal/logging"
	"github.com/inkbound/scribe/internal/relay"
	"github.com/inkbound/scribe/internal/retry"
	"github.com/inkbound/scribe/internal/upload"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: scribe <command> [args]

  keygen                         create a new operator keyfile
  upload <file> --key <name>     upload a file (add --relay for sponsored mode)
         [--label <l>] [--relay] [--compress]
  check <file> --key <name>      dry run: report what an upload would send/skip
  balance                        operator and sponsor balances
  history [n]                    recent upload activity`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	cfg, err := config.Load()
	if err != nil {
		fatal("load config: %v", err)
	}

	switch os.Args[1] {
	case "keygen":
		cmdKeygen(cfg)
	case "upload":
		cmdUpload(cfg, os.Args[2:], false)
	case "check":
		cmdUpload(cfg, os.Args[2:], true)
	case "balance":
		cmdBalance(cfg)
	case "history":
		cmdHistory(cfg, os.Args[2:])
	default:
		usage()
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "scribe: "+format+"\n", args...)
	os.Exit(1)
}

func readPassphrase(prompt string) []byte {
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		fatal("read passphrase: %v", err)
	}
	return pw
}

func cmdKeygen(cfg *config.Config) {
	if _, err := os.Stat(cfg.KeyfilePath); err == nil {
		fatal("keyfile already exists at %s", cfg.KeyfilePath)
	}
	pw := readPassphrase("New keyfile passphrase: ")
	addr, err := keyval.GenerateKeyfile(cfg.KeyfilePath, pw)
	if err != nil {
		fatal("generate keyfile: %v", err)
	}
	fmt.Printf("operator %s\nkeyfile %s\n", addr, cfg.KeyfilePath)
}

func loadSigner(cfg *config.Config) *keyval.FileSigner {
	pw := readPassphrase("Keyfile passphrase: ")
	signer, err := keyval.LoadSigner(cfg.KeyfilePath, pw)
	if err != nil {
		fatal("%v", err)
	}
	return signer
}

type uploadFlags struct {
	file     string
	keyName  string
	label    string
	useRelay bool
	compress bool
}

func parseUploadFlags(args []string) uploadFlags {
	var f uploadFlags
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--key", "-k":
			i++
			if i >= len(args) {
				usage()
			}
			f.keyName = args[i]
		case "--label", "-l":
			i++
			if i >= len(args) {
				usage()
			}
			f.label = args[i]
		case "--relay":
			f.useRelay = true
		case "--compress":
			f.compress = true
		default:
			if f.file != "" {
				usage()
			}
			f.file = args[i]
		}
	}
	if f.file == "" || f.keyName == "" {
		usage()
	}
	if f.label == "" {
		f.label = f.file
	}
	return f
}

func cmdUpload(cfg *config.Config, args []string, dryRun bool) {
	f := parseUploadFlags(args)
	log := logging.New(cfg.LogLevel)
	ctx := context.Background()

	raw, err := os.ReadFile(f.file)
	if err != nil {
		fatal("read %s: %v", f.file, err)
	}

	signer := loadSigner(cfg)
	operator := signer.Address()

	gw, err := keyval.NewGateway(keyval.GatewayConfig{BaseURL: cfg.GatewayURL, Signer: signer})
	if err != nil {
		fatal("%v", err)
	}

	cls, err := content.Classify(raw, content.Options{
		Threshold: cfg.Threshold,
		ChunkSize: cfg.ChunkSize,
		Compress:  f.compress || cfg.Compress,
	})
	if err != nil {
		fatal("classify: %v", err)
	}

	key := keyval.NormalizeKey(f.keyName)
	plan, err := upload.Prepare(cls, key, f.label, operator, gw)
	if err != nil {
		fatal("prepare: %v", err)
	}

	checker := upload.NewChecker(gw)
	outcome, err := upload.Filter(ctx, plan, checker, log)
	if err != nil {
		fatal("existence check: %v", err)
	}

	if dryRun {
		renderCheck(f.keyName, cls, outcome)
		return
	}

	retryCfg := retry.Config{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: time.Duration(cfg.InitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.MaxDelayMs) * time.Millisecond,
		Multiplier:   cfg.BackoffMultiplier,
	}
	confirm := upload.ConfirmConfig{Count: cfg.Confirmations, Timeout: cfg.ConfirmTimeout}

	entry := activity.Entry{
		Key:      f.keyName,
		Operator: operator.String(),
		Strategy: cls.Strategy.String(),
	}

	if f.useRelay {
		client, err := relay.NewClient(relay.ClientConfig{BaseURL: cfg.RelayURL, PaymentHeader: cfg.PaymentHeader})
		if err != nil {
			fatal("%v", err)
		}
		engineCfg := relay.DefaultEngineConfig()
		engineCfg.MaxBatchOps = cfg.MaxBatchOps
		engineCfg.MaxBatchBytes = cfg.MaxBatchBytes
		engineCfg.Retry = retryCfg
		engineCfg.Confirmations = cfg.Confirmations
		engineCfg.FinalTimeout = cfg.ConfirmTimeout
		engineCfg.SessionTTL = cfg.SessionExpiresIn
		engine := relay.NewEngine(client, checker, gw, signer, engineCfg, log)

		res, err := engine.Upload(ctx, operator, outcome, cls.ContentHash)
		entry.Mode = "relay"
		entry.Sent = res.ChunksSent
		entry.Skipped = res.ChunksSkipped
		entry.Failed = len(res.Errors)
		entry.Success = res.Success
		if !res.MetadataTransactionHash.IsZero() {
			entry.FinalHash = res.MetadataTransactionHash.Hex()
		}
		recordActivity(cfg, entry)
		renderRelayResult(res)
		if err != nil {
			fatal("relay upload: %v", err)
		}
		return
	}

	direct := upload.NewDirectSubmitter(checker, gw, confirm, retryCfg, log)
	res, err := direct.Submit(ctx, operator, outcome)
	if err != nil {
		fatal("direct upload: %v", err)
	}
	entry.Mode = "direct"
	entry.Sent = res.TransactionsSent
	entry.Skipped = res.TransactionsSkipped
	entry.Failed = res.TransactionsFailed
	entry.Success = res.Success
	if !res.FinalHash.IsZero() {
		entry.FinalHash = res.FinalHash.Hex()
	}
	recordActivity(cfg, entry)
	renderDirectResult(res)
	if !res.Success {
		os.Exit(1)
	}
}

func recordActivity(cfg *config.Config, e activity.Entry) {
	log, err := activity.Open(cfg.DbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scribe: activity log: %v\n", err)
		return
	}
	defer log.Close()
	if err := log.Record(context.Background(), e); err != nil {
		fmt.Fprintf(os.Stderr, "scribe: activity log: %v\n", err)
	}
}

func newResultTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	return t
}

func renderCheck(keyName string, cls *content.Classification, outcome *upload.FilterOutcome) {
	t := newResultTable()
	t.AppendRows([]table.Row{
		{"key", keyName},
		{"strategy", cls.Strategy.String()},
		{"content hash", cls.ContentHash.Hex()},
		{"chunks", len(cls.Chunks)},
		{"would send", len(outcome.ToSend)},
		{"would skip", len(outcome.Skipped)},
		{"metadata needed", outcome.MetadataNeedsStorage},
	})
	t.Render()
}

func renderDirectResult(res *upload.DirectResult) {
	t := newResultTable()
	t.AppendRows([]table.Row{
		{"success", res.Success},
		{"sent", res.TransactionsSent},
		{"skipped", res.TransactionsSkipped},
		{"failed", res.TransactionsFailed},
	})
	if !res.FinalHash.IsZero() {
		t.AppendRow(table.Row{"final tx", res.FinalHash.Hex()})
	}
	if res.Error != "" {
		t.AppendRow(table.Row{"error", res.Error})
	}
	t.Render()
}

func renderRelayResult(res *relay.Result) {
	t := newResultTable()
	t.AppendRows([]table.Row{
		{"success", res.Success},
		{"content hash", res.TopLevelHash.Hex()},
		{"chunks sent", res.ChunksSent},
		{"chunks skipped", res.ChunksSkipped},
		{"metadata submitted", res.MetadataSubmitted},
	})
	if !res.MetadataTransactionHash.IsZero() {
		t.AppendRow(table.Row{"metadata tx", res.MetadataTransactionHash.Hex()})
	}
	for _, e := range res.Errors {
		t.AppendRow(table.Row{"error", e})
	}
	t.Render()
}

func cmdBalance(cfg *config.Config) {
	signer := loadSigner(cfg)
	ctx := context.Background()

	gw, err := keyval.NewGateway(keyval.GatewayConfig{BaseURL: cfg.GatewayURL, Signer: signer})
	if err != nil {
		fatal("%v", err)
	}
	t := newResultTable()
	t.AppendHeader(table.Row{"account", "balance", "note"})

	bal, err := gw.Balance(ctx, signer.Address())
	if err != nil {
		t.AppendRow(table.Row{"operator", "-", err.Error()})
	} else {
		t.AppendRow(table.Row{"operator", bal.String(), signer.Address()})
	}

	client, err := relay.NewClient(relay.ClientConfig{BaseURL: cfg.RelayURL, PaymentHeader: cfg.PaymentHeader})
	if err == nil {
		info, err := client.Balance(ctx, signer.Address())
		if err != nil {
			t.AppendRow(table.Row{"sponsor", "-", err.Error()})
		} else {
			note := "insufficient"
			if info.Sufficient {
				note = "sufficient"
			}
			t.AppendRow(table.Row{"sponsor", info.Balance.String(), note})
		}
	}
	t.Render()
}

func cmdHistory(cfg *config.Config, args []string) {
	limit := 20
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			usage()
		}
		limit = n
	}
	log, err := activity.Open(cfg.DbPath)
	if err != nil {
		fatal("activity log: %v", err)
	}
	defer log.Close()

	entries, err := log.Recent(context.Background(), limit)
	if err != nil {
		fatal("activity log: %v", err)
	}
	t := newResultTable()
	t.AppendHeader(table.Row{"when", "key", "mode", "strategy", "sent", "skipped", "failed", "ok"})
	for _, e := range entries {
		t.AppendRow(table.Row{
			e.RecordedAt.Format("2006-01-02 15:04"),
			e.Key, e.Mode, e.Strategy, e.Sent, e.Skipped, e.Failed, e.Success,
		})
	}
	t.Render()
}
