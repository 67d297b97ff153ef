package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"dslock/pkg/lockclient"
	"dslock/pkg/locker"
)

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "status [key]",
		Short:   "Show whether a lock is held, by whom and for how long",
		Long:    "Show the state of a lock key. The key may omit the lock prefix, e.g. Orders.Submit.42.",
		Args:    cobra.ExactArgs(1),
		PreRunE: a.setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := a.client.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return a.print(status, func(w io.Writer) {
				if !status.Locked {
					fmt.Fprintf(w, "key=%s locked=false\n", status.Key)

					return
				}
				fmt.Fprintf(w, "key=%s locked=true owner=%s ttl=%ds\n", status.Key, status.Owner, status.TTLSeconds)
			})
		},
	}
}

func (a *app) countCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "count",
		Short:   "Count live lock keys",
		Args:    cobra.NoArgs,
		PreRunE: a.setup,
		RunE: func(cmd *cobra.Command, _ []string) error {
			count, err := a.client.Count(cmd.Context())
			if err != nil {
				return err
			}

			return a.print(map[string]int{"count": count}, func(w io.Writer) {
				fmt.Fprintf(w, "count=%d\n", count)
			})
		},
	}
}

func (a *app) releaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "release [key] [owner]",
		Short:   "Release a lock held by owner",
		Long:    "Release a lock using its key and the owner token stored in it, as printed by the status command.",
		Args:    cobra.ExactArgs(2),
		PreRunE: a.setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			released, err := a.client.Release(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}

			return a.print(map[string]bool{"released": released}, func(w io.Writer) {
				fmt.Fprintf(w, "released=%t\n", released)
			})
		},
	}
}

func (a *app) submitCmd() *cobra.Command {
	var customer, payload string

	cmd := &cobra.Command{
		Use:     "submit [request-id]",
		Short:   "Send a submission; repeats within the hold window are rejected",
		Args:    cobra.ExactArgs(1),
		PreRunE: a.setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			receipt, err := a.client.Submit(cmd.Context(), lockclient.Submission{
				RequestID: args[0],
				Customer:  customer,
				Payload:   payload,
			})
			if errors.Is(err, locker.ErrLockAcquisitionFailed) {
				return fmt.Errorf("request %s was already submitted: %w", args[0], err)
			}
			if err != nil {
				return err
			}

			return a.print(receipt, func(w io.Writer) {
				fmt.Fprintf(w, "accepted=true request_id=%s node=%s\n", receipt.RequestID, receipt.Node)
			})
		},
	}

	cmd.Flags().StringVar(&customer, "customer", "", "customer submitting the request")
	cmd.Flags().StringVar(&payload, "payload", "", "opaque request payload")
	_ = cmd.MarkFlagRequired("customer")

	return cmd
}

func (a *app) processCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "process [request-id]",
		Short:   "Process a submission; concurrent calls for one id run one at a time",
		Args:    cobra.ExactArgs(1),
		PreRunE: a.setup,
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := a.client.Process(cmd.Context(), args[0])
			if errors.Is(err, locker.ErrLockWaitTimedOut) {
				return fmt.Errorf("request %s is busy, try again: %w", args[0], err)
			}
			if err != nil {
				return err
			}

			return a.print(result, func(w io.Writer) {
				fmt.Fprintf(w, "processed=true request_id=%s attempt=%d node=%s\n",
					result.RequestID, result.Attempt, result.Node)
			})
		},
	}
}
