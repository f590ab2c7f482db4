package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"payconfirm/cmd/internal/confirm"
	"payconfirm/config"
	"payconfirm/core/submission"
	"payconfirm/services/sendd"
)

const (
	defaultConfig = "./sendctl.toml"
	assumeYesEnv  = "SENDCTL_ASSUME_YES"
)

var errNotReady = errors.New("node did not become ready in time")

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	fs := flag.NewFlagSet(os.Args[1], flag.ExitOnError)
	configPath := fs.String("config", defaultConfig, "Path to the sendctl config file")
	yes := fs.Bool("yes", false, "Pay without asking for confirmation")
	_ = fs.Parse(os.Args[2:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	client := newAPIClient(cfg.Endpoint, cfg.BearerToken(), cfg.RequestTimeout())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "pay":
		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "Error: Please provide a payment request.")
			usage()
			os.Exit(1)
		}
		prompter := confirm.NewPrompter(assumeYesEnv, *yes || cfg.AssumeYes)
		err = runPay(ctx, client, prompter, fs.Arg(0), cfg.ReadyTimeout(), os.Stdout)
	case "status":
		var view sendd.View
		view, err = client.View(ctx)
		if err == nil {
			printView(os.Stdout, view)
		}
	case "watch":
		err = client.Stream(ctx, func(frame sendd.StreamFrame) bool {
			if !frame.Active {
				fmt.Println("no active workflow")
				return true
			}
			printView(os.Stdout, *frame.View)
			return true
		})
	case "abandon":
		err = client.Abandon(ctx)
	case "dismiss":
		err = client.Dismiss(ctx)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type workflowAPI interface {
	Begin(ctx context.Context, invoice string) (sendd.View, error)
	Submit(ctx context.Context) (sendd.SubmitResponse, error)
	Abandon(ctx context.Context) error
	Stream(ctx context.Context, fn func(sendd.StreamFrame) bool) error
}

type confirmer interface {
	Confirm(question string) (bool, error)
}

// runPay drives one confirmation workflow end to end. The workflow is
// abandoned whenever the operator declines or pay exits without a payment.
func runPay(ctx context.Context, api workflowAPI, prompt confirmer, invoice string, readyWait time.Duration, out io.Writer) (err error) {
	view, err := api.Begin(ctx, strings.TrimSpace(invoice))
	if err != nil {
		return err
	}
	printView(out, view)

	completed := false
	defer func() {
		if completed {
			return
		}
		if abandonErr := api.Abandon(context.WithoutCancel(ctx)); abandonErr != nil && !errors.Is(abandonErr, errNoWorkflow) && err == nil {
			err = abandonErr
		}
	}()

	question := "Pay?"
	for {
		if !view.Ready {
			if view, err = waitReady(ctx, api, readyWait, out); err != nil {
				return err
			}
		}
		ok, err := prompt.Confirm(question)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(out, "Payment abandoned.")
			return nil
		}

		resp, err := api.Submit(ctx)
		if err != nil {
			return err
		}
		switch resp.Outcome {
		case submission.OutcomeCompleted:
			completed = true
			fmt.Fprintln(out, "Payment sent.")
			if resp.Receipt != nil && resp.Receipt.PaymentHash != "" {
				fmt.Fprintf(out, "Payment hash: %s\n", resp.Receipt.PaymentHash)
			}
			return nil
		case submission.OutcomeFailed:
			fmt.Fprintf(out, "Error: %s\n", resp.Message)
			question = "Retry?"
		default:
			view.Ready = false
		}
	}
}

func waitReady(ctx context.Context, api workflowAPI, wait time.Duration, out io.Writer) (sendd.View, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	var (
		ready   sendd.View
		found   bool
		waiting string
	)
	err := api.Stream(ctx, func(frame sendd.StreamFrame) bool {
		if !frame.Active || frame.View == nil {
			return true
		}
		if frame.View.Ready {
			ready, found = *frame.View, true
			return false
		}
		if joined := strings.Join(frame.View.Waiting, ", "); joined != "" && joined != waiting {
			waiting = joined
			fmt.Fprintf(out, "Waiting for node: %s\n", joined)
		}
		return true
	})
	if found {
		return ready, nil
	}
	if err == nil || errors.Is(err, context.DeadlineExceeded) {
		return sendd.View{}, errNotReady
	}
	return sendd.View{}, err
}

func printView(out io.Writer, view sendd.View) {
	fmt.Fprintln(out, view.Title)
	tw := tabwriter.NewWriter(out, 0, 2, 2, ' ', 0)
	for _, item := range view.Items {
		fmt.Fprintf(tw, "  %s\t%s\n", item.Title, item.Value)
	}
	_ = tw.Flush()
	if view.Notification != nil {
		fmt.Fprintf(out, "  ! %s\n", view.Notification.Text)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: sendctl <command> [flags] [args]

Commands:
  pay <payment request>  Show the payment, confirm and pay it
  status                 Show the active confirmation
  watch                  Stream confirmation updates
  abandon                Abandon the active confirmation
  dismiss                Dismiss the visible notification

Flags:
  --config <path>        Path to the sendctl config file (default ./sendctl.toml)
  --yes                  Pay without asking for confirmation`)
}
