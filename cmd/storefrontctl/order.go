package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/PortNumber53/beat-storefront/backend/internal/assets"
	"github.com/PortNumber53/beat-storefront/backend/internal/config"
	"github.com/PortNumber53/beat-storefront/backend/internal/coupons"
	"github.com/PortNumber53/beat-storefront/backend/internal/fulfillment"
	"github.com/PortNumber53/beat-storefront/backend/internal/notify"
	"github.com/PortNumber53/beat-storefront/backend/internal/store"
	"github.com/PortNumber53/beat-storefront/backend/internal/stripe"
	"github.com/PortNumber53/beat-storefront/backend/internal/webhook"
)

func orderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Inspect and repair orders",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <session-id>",
		Short: "Print the stored checkout session as JSON",
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
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(sess)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reconcile <session-id>",
		Short: "Fulfill a paid order whose webhook never arrived",
		Long: `Fetch the checkout session from the payment provider and, if it is paid,
run the same fulfillment path the webhook uses. Safe to repeat: an order
that is already fulfilled is left untouched.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			if cfg.StripeSecretKey == "" || cfg.AssetBaseURL == "" {
				return errors.New("STRIPE_SECRET_KEY and ASSET_BASE_URL are required")
			}

			st, err := store.New(db)
			if err != nil {
				return err
			}
			urls, err := assets.NewURLBuilder(cfg.AssetBaseURL)
			if err != nil {
				return err
			}

			client := stripeClient(cfg)
			obj, err := client.RetrieveCheckoutSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !obj.Paid() {
				return fmt.Errorf("session %s has payment_status=%s; nothing to do", obj.ID, obj.PaymentStatus)
			}

			notifier := notifierFor(cfg)
			if closer, ok := notifier.(*notify.KafkaNotifier); ok {
				defer closer.Close()
			}
			processor := webhook.NewProcessor(webhook.Config{Secret: cfg.StripeWebhookSecret, Timeout: cfg.WebhookTimeout},
				st, fulfillment.NewService(st, urls), coupons.NewEngine(st), notifier)
			if err := processor.CompletePayment(cmd.Context(), obj); err != nil {
				return err
			}

			sess, err := st.GetCheckoutSession(cmd.Context(), obj.ID)
			if err != nil {
				return err
			}
			fmt.Printf("session %s is %s\n", sess.ID, sess.Status)
			return nil
		},
	})

	return cmd
}

func stripeClient(cfg config.Config) *stripe.Client {
	if cfg.StripeAPIBase != "" {
		return stripe.NewClient(cfg.StripeSecretKey, stripe.WithBaseURL(cfg.StripeAPIBase))
	}
	return stripe.NewClient(cfg.StripeSecretKey)
}

func notifierFor(cfg config.Config) notify.Notifier {
	if len(cfg.KafkaBrokers) == 0 {
		log.Printf("notify: KAFKA_BROKERS not set; manifest will only be logged")
		return notify.LogNotifier{}
	}
	return notify.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaDeliveryTopic)
}
