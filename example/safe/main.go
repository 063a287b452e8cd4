// Command safe starts a safe-mode endpoint on a loopback port and calls it
// with safe-mode and plain clients, printing what each one sees.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/mnehpets/onerpc/client"
	"github.com/mnehpets/onerpc/config"
	"github.com/mnehpets/onerpc/jsonrpc"
)

type Invoice struct {
	Customer string    `json:"customer"`
	Issued   time.Time `json:"issued"`
	Due      time.Time `json:"due"`
	// Amount is in minor units and may exceed 2^53.
	Amount *big.Int `json:"amount"`
}

type issueParams struct {
	Customer string   `json:"customer"`
	Amount   *big.Int `json:"amount"`
	Days     int      `json:"days"`
}

func main() {
	cfg := config.Default()
	cfg.Log.Level = "warn"
	logger, err := config.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		log.Fatal(err)
	}

	opts := cfg.EndpointOptions(logger)
	e := jsonrpc.NewSafeEndpoint(struct{}{}, &opts)
	if err := e.AddMethod("invoice.issue", jsonrpc.Func[struct{}](func(_ context.Context, p issueParams) (Invoice, error) {
		if p.Amount == nil || p.Amount.Sign() <= 0 {
			return Invoice{}, jsonrpc.NewInvalidParamsError("amount must be positive")
		}
		issued := time.Date(2025, 1, 15, 9, 30, 0, 123456789, time.UTC)
		return Invoice{
			Customer: p.Customer,
			Issued:   issued,
			Due:      issued.AddDate(0, 0, p.Days),
			Amount:   p.Amount,
		}, nil
	})); err != nil {
		log.Fatal(err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Fatal(err)
	}
	srv := &http.Server{Handler: e.HTTPHandler(cfg.HTTPOptions()), ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()
	defer srv.Close()
	url := "http://" + ln.Addr().String() + "/"

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	amount, _ := new(big.Int).SetString("9007199254740993", 10) // 2^53 + 1
	params := issueParams{Customer: "S:ACME", Amount: amount, Days: 30}

	safe := client.NewSafe(url, nil)
	var inv Invoice
	if err := safe.Call(ctx, "invoice.issue", params, &inv); err != nil {
		log.Fatal(err)
	}
	fmt.Println("safe client:")
	fmt.Printf("  customer %q\n", inv.Customer)
	fmt.Printf("  issued   %s\n", inv.Issued.Format(time.RFC3339Nano))
	fmt.Printf("  due      %s\n", inv.Due.Format(time.RFC3339Nano))
	fmt.Printf("  amount   %s\n", inv.Amount)

	// A plain client sees the tagged wire form.
	plain := client.New(url, nil)
	var raw map[string]interface{}
	if err := plain.Call(ctx, "invoice.issue", map[string]interface{}{
		"customer": "S:ACME",
		"amount":   "9007199254740993n",
		"days":     30,
	}, &raw); err != nil {
		log.Fatal(err)
	}
	fmt.Println("plain client:")
	for _, k := range []string{"customer", "issued", "due", "amount"} {
		fmt.Printf("  %-8s %v\n", k, raw[k])
	}
}
