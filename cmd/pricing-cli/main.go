package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"pricing-service/internal/entity"
	"pricing-service/internal/repository"
	"pricing-service/internal/rulepack"
	"pricing-service/internal/service"
	"pricing-service/internal/tenant"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
)

// Cart is the JSON input: a client and the lines to price.
type Cart struct {
	Client entity.ClientContext `json:"client"`
	Items  []entity.LineItem    `json:"items"`
}

func main() {
	rulesPath := flag.String("rules", "data/rules/example.yaml", "YAML rule pack")
	cartPath := flag.String("cart", "data/carts/example.json", "JSON cart")
	date := flag.String("date", "", "evaluation date, YYYY-MM-DD or RFC3339 (default now)")
	asJSON := flag.Bool("json", false, "print the evaluation result as JSON")
	verbose := flag.Bool("v", false, "log skipped rules")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if err := run(os.Stdout, *rulesPath, *cartPath, *date, *asJSON); err != nil {
		fmt.Fprintln(os.Stderr, "pricing-cli:", err)
		os.Exit(1)
	}
}

func run(out io.Writer, rulesPath, cartPath, date string, asJSON bool) error {
	asOf, err := parseDate(date)
	if err != nil {
		return err
	}

	storeID, rules, err := rulepack.LoadFile(rulesPath)
	if err != nil {
		return err
	}
	cart, err := loadCart(cartPath)
	if err != nil {
		return err
	}

	store := repository.NewMemoryRuleStore(rules...)
	ctx := tenant.WithTenant(context.Background(), "local")
	result, err := service.NewPricingService(store, store).Evaluate(ctx, storeID, cart.Items, cart.Client, asOf)
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	return printSummary(out, result)
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid -date %q", raw)
	}
	return t, nil
}

func loadCart(path string) (*Cart, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cart %s: %w", path, err)
	}
	var cart Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("failed to parse cart %s: %w", path, err)
	}
	return &cart, nil
}

func printSummary(out io.Writer, result entity.EvaluationResult) error {
	fmt.Fprintf(out, "store %d as of %s\n\n", result.StoreID, result.AsOf.Format(time.RFC3339))

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "product\tsku\tqty\tunit\tadjusted\tdiscount\ttotal\trule\t")
	for _, line := range result.Items {
		rule := "-"
		if line.AppliedRuleCode != "" {
			rule = line.AppliedRuleCode
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\t%s\t%s\t\n", line.ProductID, line.SKU, line.Quantity,
			line.BasePrice.StringFixed(2), line.AdjustedUnitPrice.StringFixed(2), line.DiscountAmount.StringFixed(2),
			line.LineTotal.StringFixed(2), rule)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\nsubtotal %s  discount %s  total %s\n",
		result.Subtotal.StringFixed(2), result.DiscountTotal.StringFixed(2), result.Total.StringFixed(2))
	fmt.Fprintf(out, "applied rules: %v\n", result.AppliedRuleIDs)
	for _, skipped := range result.SkippedRules {
		fmt.Fprintf(out, "skipped %s (%d): %s\n", skipped.RuleCode, skipped.RuleID, skipped.Reason)
	}
	return nil
}
