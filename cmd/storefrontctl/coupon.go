package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/PortNumber53/beat-storefront/backend/internal/coupons"
	"github.com/PortNumber53/beat-storefront/backend/internal/models"
	"github.com/PortNumber53/beat-storefront/backend/internal/store"
)

func couponCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "coupon",
		Short: "Create and deactivate coupons",
	}
	cmd.AddCommand(couponCreateCmd())
	cmd.AddCommand(couponDeactivateCmd())
	return cmd
}

func couponCreateCmd() *cobra.Command {
	var (
		percent    string
		fixedCents int64
		free       bool
		maxUses    int
		email      string
		expiresIn  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "create <code>",
		Short: "Create an active coupon",
		Long: `Create an active coupon with exactly one effect:

  --percent 20        20% off the post-bundle total
  --fixed-cents 1     charge exactly one cent
  --free              make the order free

Examples:
  storefrontctl coupon create SPRING --percent 15 --max-uses 100
  storefrontctl coupon create VIP --free --email fan@example.com --expires-in 720h`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var effects []models.CouponEffect
			if percent != "" {
				p, err := decimal.NewFromString(percent)
				if err != nil {
					return fmt.Errorf("invalid --percent %q: %w", percent, err)
				}
				effects = append(effects, models.PercentageOff(p))
			}
			if cmd.Flags().Changed("fixed-cents") {
				effects = append(effects, models.FixedResult(fixedCents))
			}
			if free {
				effects = append(effects, models.FreeOverride())
			}
			if len(effects) != 1 {
				return errors.New("exactly one of --percent, --fixed-cents or --free is required")
			}

			in := coupons.Input{Code: args[0], Effect: effects[0], MaxUses: maxUses, BoundEmail: email}
			if expiresIn > 0 {
				at := time.Now().Add(expiresIn)
				in.ExpiresAt = &at
			}

			_, db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			st, err := store.New(db)
			if err != nil {
				return err
			}
			c, err := coupons.NewEngine(st).Create(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Printf("created coupon %s (%s, max uses %d)\n", c.Code, c.Effect.Kind, c.MaxUses)
			return nil
		},
	}

	cmd.Flags().StringVar(&percent, "percent", "", "percentage off, 0 < p <= 100")
	cmd.Flags().Int64Var(&fixedCents, "fixed-cents", 0, "reduce the total to exactly this many cents")
	cmd.Flags().BoolVar(&free, "free", false, "make the order free")
	cmd.Flags().IntVar(&maxUses, "max-uses", 0, "maximum redemptions, 0 for unlimited")
	cmd.Flags().StringVar(&email, "email", "", "restrict the coupon to one buyer email")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "expire after this duration")

	return cmd
}

func couponDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <code>",
		Short: "Soft-deactivate a coupon",
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
			if err := coupons.NewEngine(st).Deactivate(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("coupon %s deactivated\n", coupons.NormalizeCode(args[0]))
			return nil
		},
	}
}
