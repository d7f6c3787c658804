// Command tradeclient is an interactive terminal client for tradeserver.
//
// Usage:
//
//	tradeclient --addr localhost:5001
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/tradeserver/internal/client"
	"github.com/vadiminshakov/tradeserver/internal/domain"
	"github.com/vadiminshakov/tradeserver/pkg/retrier"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205")).MarginBottom(1)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func main() {
	addr := flag.String("addr", "localhost:5001", "server address")
	timeout := flag.Duration("timeout", 10*time.Second, "request timeout")
	retries := flag.Int("retries", 5, "connection attempts to repeat while the server is unreachable")
	flag.Parse()

	var user domain.User
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Username").
				Value(&user.Username),
			huh.NewInput().
				Title("Password").
				EchoMode(huh.EchoModePassword).
				Value(&user.Password),
		),
	).Run()
	if err != nil {
		log.Fatal(err)
	}

	r := retrier.New(retrier.WithMaxRetries(*retries), retrier.WithRetryIf(client.Refused))
	c, err := client.DialRetry(context.Background(), *addr, *timeout, r)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	portfolio, err := c.Login(user)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(titleStyle.Render("Authenticated as " + user.Username))
	fmt.Println(client.Render(portfolio.Holdings()))

	for {
		order, quit, err := promptOrder()
		if errors.Is(err, domain.ErrProtocolParse) {
			fmt.Println(errorStyle.Render(err.Error()))
			continue
		}
		if err != nil {
			log.Fatal(err)
		}
		if quit {
			return
		}

		p, err := c.Submit(order)
		var serr *client.ServerError
		switch {
		case errors.As(err, &serr) && p != nil:
			fmt.Println(errorStyle.Render(serr.Error()))
		case err != nil:
			log.Fatal(err)
		}
		fmt.Println(client.Render(p.Holdings()))
	}
}

func promptOrder() (domain.Order, bool, error) {
	var (
		side                   string
		symbol, qtyStr, prcStr string
	)
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Action").
				Options(
					huh.NewOption("Buy", "buy"),
					huh.NewOption("Sell", "sell"),
					huh.NewOption("Quit", "quit"),
				).
				Value(&side),
		),
	).Run()
	if err != nil || side == "quit" {
		return domain.Order{}, side == "quit", err
	}

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Symbol").
				Value(&symbol),
			huh.NewInput().
				Title("Quantity").
				Value(&qtyStr).
				Validate(validatePositive),
			huh.NewInput().
				Title("Price").
				Value(&prcStr).
				Validate(validateDecimal),
		),
	).Run()
	if err != nil {
		return domain.Order{}, false, err
	}

	order, err := domain.ParseOrder(fmt.Sprintf("%s/%s/%s/%s", side, symbol, qtyStr, prcStr))
	return order, false, err
}

func validateDecimal(s string) error {
	if _, err := decimal.NewFromString(s); err != nil {
		return fmt.Errorf("must be a valid number")
	}
	return nil
}

func validatePositive(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsPositive() {
		return fmt.Errorf("must be a positive number")
	}
	return nil
}
