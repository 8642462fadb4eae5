package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rl1809/stock-ledger/internal/adapter/handler"
	"github.com/rl1809/stock-ledger/internal/core/domain"
)

type options struct {
	addr      string
	file      string
	shopID    string
	product   string
	unit      string
	delta     string
	count     int
	batchSize int
	workers   int
	timeout   time.Duration
}

func main() {
	_ = godotenv.Load()

	var o options
	flag.StringVar(&o.addr, "addr", envOr("GRPC_ADDR", "localhost:50051"), "gRPC address of the server")
	flag.StringVar(&o.file, "file", "", "CSV of shop_id,product,delta[,unit]; overrides the generated load")
	flag.StringVar(&o.shopID, "shop", "shop-1", "shop for the generated load")
	flag.StringVar(&o.product, "product", "Parle-G", "product for the generated load")
	flag.StringVar(&o.unit, "unit", "", "unit for the generated load")
	flag.StringVar(&o.delta, "delta", "1", "delta of each generated item")
	flag.IntVar(&o.count, "n", 100, "number of generated items")
	flag.IntVar(&o.batchSize, "batch", 10, "items per request")
	flag.IntVar(&o.workers, "workers", 8, "concurrent requests")
	flag.DurationVar(&o.timeout, "timeout", 30*time.Second, "overall timeout")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	if err := run(o, logger); err != nil {
		logger.Error("bulk update failed", "error", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func run(o options, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	items, err := loadItems(o)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return errors.New("no items to send")
	}

	conn, err := grpc.NewClient(o.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connect %s: %w", o.addr, err)
	}
	defer conn.Close()
	client := handler.NewInventoryClient(conn)

	generated := o.file == ""
	var before decimal.Decimal
	if generated {
		if before, err = currentStock(ctx, client, o.shopID, o.product); err != nil {
			return err
		}
	}

	var applied, failed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	start := time.Now()
	for _, chunk := range chunks(items, o.batchSize) {
		g.Go(func() error {
			resp, err := client.BulkUpdate(gctx, &handler.BulkRequest{Items: chunk})
			if err != nil {
				return fmt.Errorf("bulk request: %w", err)
			}
			for _, r := range resp.Results {
				if r.Error != "" {
					failed.Add(1)
					logger.Warn("item failed", "shop_id", r.Item.ShopID, "product", r.Item.Product, "error", r.Error)
					continue
				}
				applied.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	fmt.Println("========== BULK UPDATE RESULTS ==========")
	fmt.Printf("Items:            %d\n", len(items))
	fmt.Printf("Applied:          %d\n", applied.Load())
	fmt.Printf("Failed:           %d\n", failed.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if !generated {
		return nil
	}

	after, err := currentStock(ctx, client, o.shopID, o.product)
	if err != nil {
		return err
	}
	delta := decimal.RequireFromString(o.delta)
	want := before.Add(delta.Mul(decimal.NewFromInt(int64(applied.Load()))))
	fmt.Printf("Stock:            %s -> %s\n", before, after)
	if after.Equal(want) {
		fmt.Println("PASS: no update was lost")
	} else {
		fmt.Printf("FAIL: expected stock %s, got %s\n", want, after)
	}
	return nil
}

func loadItems(o options) ([]domain.BulkItem, error) {
	if o.file != "" {
		f, err := os.Open(o.file)
		if err != nil {
			return nil, fmt.Errorf("open %q: %w", o.file, err)
		}
		defer f.Close()
		return parseCSV(f)
	}

	delta, err := decimal.NewFromString(o.delta)
	if err != nil {
		return nil, fmt.Errorf("delta %q: %w", o.delta, err)
	}
	items := make([]domain.BulkItem, o.count)
	for i := range items {
		items[i] = domain.BulkItem{ShopID: o.shopID, Product: o.product, Delta: delta, Unit: o.unit}
	}
	return items, nil
}

// parseCSV reads shop_id,product,delta[,unit] rows. A first row whose delta
// column is not a number is treated as a header.
func parseCSV(r io.Reader) ([]domain.BulkItem, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var items []domain.BulkItem
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return items, nil
		}
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		if len(rec) < 3 {
			return nil, fmt.Errorf("csv line %d: want shop_id,product,delta[,unit], got %d fields", line, len(rec))
		}
		delta, err := decimal.NewFromString(strings.TrimSpace(rec[2]))
		if err != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("csv line %d: delta %q: %w", line, rec[2], err)
		}
		item := domain.BulkItem{ShopID: strings.TrimSpace(rec[0]), Product: strings.TrimSpace(rec[1]), Delta: delta}
		if len(rec) > 3 {
			item.Unit = strings.TrimSpace(rec[3])
		}
		items = append(items, item)
	}
}

func chunks(items []domain.BulkItem, size int) [][]domain.BulkItem {
	if size <= 0 {
		size = 1
	}
	var out [][]domain.BulkItem
	for len(items) > size {
		out = append(out, items[:size:size])
		items = items[size:]
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}

func currentStock(ctx context.Context, client *handler.InventoryClient, shopID, product string) (decimal.Decimal, error) {
	resp, err := client.Inventory(ctx, &handler.InventoryRequest{ShopID: shopID})
	if err != nil {
		return decimal.Zero, fmt.Errorf("read inventory: %w", err)
	}
	for _, rec := range resp.Records {
		if strings.EqualFold(rec.Product, product) {
			return rec.Quantity, nil
		}
	}
	return decimal.Zero, nil
}
