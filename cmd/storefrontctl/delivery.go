package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/PortNumber53/beat-storefront/backend/internal/models"
	"github.com/PortNumber53/beat-storefront/backend/internal/store"
)

func deliveryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delivery",
		Short: "Manage delivery emails",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "resend <session-id>",
		Short: "Queue a resend of a fulfilled order's stored manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			st, err := store.New(db)
			if err != nil {
				return err
			}
			sess, err := st.GetCheckoutSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if sess.Status != models.SessionFulfilled {
				return fmt.Errorf("session %s is %s, not FULFILLED", sess.ID, sess.Status)
			}

			jobs, err := store.NewJobStore(db)
			if err != nil {
				return err
			}
			job := models.NewDeliveryResendJob(sess.ID)
			if err := jobs.Enqueue(cmd.Context(), job); err != nil {
				return err
			}
			fmt.Printf("queued resend job %d for %s (%s)\n", job.ID, sess.ID, sess.BuyerEmail)
			return nil
		},
	})

	return cmd
}
