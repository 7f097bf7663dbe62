package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pdutra/cardex/internal/config"
	"github.com/pdutra/cardex/internal/profile"
	"github.com/pdutra/cardex/internal/store"
	"github.com/pdutra/cardex/internal/tradesession"
)

func main() {
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	addrFlag := flag.String("addr", "", "daemon address (overrides config)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	addr := *addrFlag
	if addr == "" {
		addr = config.DefaultListen
		if cfg, err := config.Load(profile.ConfigPath()); err == nil {
			addr = cfg.Daemon.Listen
		}
	}

	c := resty.New().
		SetBaseURL("http://" + addr + "/v1").
		SetTimeout(10 * time.Second)

	var err error
	switch args[0] {
	case "status":
		err = cmdStatus(c, *jsonFlag)
	case "trades":
		err = cmdTrades(c, args[1:], *jsonFlag)
	case "session":
		err = cmdSession(c, args[1:], *jsonFlag)
	case "send":
		err = cmdSend(c, args[1:])
	case "respond":
		err = cmdRespond(c, args[1:])
	case "typing":
		err = cmdTyping(c, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: cardexctl [--json] [--addr host:port] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                          Show daemon status")
	fmt.Fprintln(os.Stderr, "  trades [pending|accepted|...]   List trade offers")
	fmt.Fprintln(os.Stderr, "  session open <trade-id>         Open a trade session")
	fmt.Fprintln(os.Stderr, "  session view <trade-id>         Show the session view")
	fmt.Fprintln(os.Stderr, "  session close <trade-id>        Close a trade session")
	fmt.Fprintln(os.Stderr, "  send <trade-id> <text>          Send a chat message")
	fmt.Fprintln(os.Stderr, "  respond <trade-id> <decision>   Accept, reject or cancel an offer")
	fmt.Fprintln(os.Stderr, "  typing <trade-id> <on|off>      Set the typing indicator")
}

func check(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("%s: %s", resp.Status(), resp.String())
	}
	return nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func cmdStatus(c *resty.Client, asJSON bool) error {
	var status struct {
		Profile  string `json:"profile"`
		UserID   string `json:"user_id"`
		Realtime bool   `json:"realtime"`
		Sessions []struct {
			TradeID string `json:"trade_id"`
			State   string `json:"state"`
		} `json:"sessions"`
	}
	resp, err := c.R().SetResult(&status).Get("/status")
	if err := check(resp, err); err != nil {
		return err
	}
	if asJSON {
		return printJSON(status)
	}
	fmt.Printf("profile:  %s\n", status.Profile)
	fmt.Printf("user:     %s\n", status.UserID)
	fmt.Printf("realtime: %v\n", status.Realtime)
	if len(status.Sessions) == 0 {
		fmt.Println("sessions: none")
		return nil
	}
	fmt.Println("sessions:")
	for _, s := range status.Sessions {
		fmt.Printf("  %s (%s)\n", s.TradeID, s.State)
	}
	return nil
}

func cmdTrades(c *resty.Client, args []string, asJSON bool) error {
	req := c.R()
	if len(args) > 0 {
		req.SetQueryParam("status", args[0])
	}
	var result struct {
		Trades []store.Offer `json:"trades"`
	}
	resp, err := req.SetResult(&result).Get("/trades")
	if err := check(resp, err); err != nil {
		return err
	}
	if asJSON {
		return printJSON(result.Trades)
	}
	if len(result.Trades) == 0 {
		fmt.Println("no trades")
		return nil
	}
	for _, o := range result.Trades {
		fmt.Printf("%s  %-10s %s -> %s  (%d for %d, %s cash)\n",
			o.ID, o.Status, o.InitiatorID, o.RecipientID,
			len(o.Offered), len(o.Requested), o.CashAdjustment)
	}
	return nil
}

func cmdSession(c *resty.Client, args []string, asJSON bool) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: cardexctl session <open|view|close> <trade-id>")
	}
	sub, tradeID := args[0], args[1]
	switch sub {
	case "open":
		resp, err := c.R().Post("/trades/" + tradeID + "/session")
		if err := check(resp, err); err != nil {
			return err
		}
		fmt.Println("session opened")
		return nil
	case "close":
		resp, err := c.R().Delete("/trades/" + tradeID + "/session")
		if err := check(resp, err); err != nil {
			return err
		}
		fmt.Println("session closed")
		return nil
	case "view":
		var view tradesession.View
		resp, err := c.R().SetResult(&view).Get("/trades/" + tradeID + "/session")
		if err := check(resp, err); err != nil {
			return err
		}
		if asJSON {
			return printJSON(view)
		}
		printView(&view)
		return nil
	}
	return fmt.Errorf("unknown session subcommand: %s", sub)
}

func printView(v *tradesession.View) {
	fmt.Printf("trade %s [%s]\n", v.TradeID, v.State)
	if v.Offer != nil {
		fmt.Printf("  status: %s\n", v.Offer.Status)
		fmt.Printf("  %s offers %d card(s), requests %d, cash %s\n",
			v.Offer.InitiatorID, len(v.Offer.Offered), len(v.Offer.Requested), v.Offer.CashAdjustment)
	}
	for _, p := range v.Participants {
		marker := ""
		if p.IsTyping {
			marker = " (typing)"
		}
		fmt.Printf("  %s: %s%s\n", p.UserID, p.PresenceStatus, marker)
	}
	for _, m := range v.Messages {
		ts := time.UnixMilli(m.Timestamp).Local().Format("15:04")
		fmt.Printf("  [%s] %s: %s\n", ts, m.SenderID, m.Body)
	}
	if len(v.Actions) > 0 {
		fmt.Printf("  actions: %v\n", v.Actions)
	}
}

func cmdSend(c *resty.Client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: cardexctl send <trade-id> <text>")
	}
	resp, err := c.R().
		SetBody(map[string]string{"text": args[1]}).
		Post("/trades/" + args[0] + "/messages")
	if err := check(resp, err); err != nil {
		return err
	}
	fmt.Println("queued")
	return nil
}

func cmdRespond(c *resty.Client, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: cardexctl respond <trade-id> <accept|reject|cancel>")
	}
	resp, err := c.R().
		SetBody(map[string]string{"decision": args[1]}).
		Post("/trades/" + args[0] + "/respond")
	if err != nil {
		return err
	}
	if resp.StatusCode() == 409 {
		fmt.Println("offer is no longer respondable")
		return nil
	}
	if resp.IsError() {
		return fmt.Errorf("%s: %s", resp.Status(), resp.String())
	}
	fmt.Println("submitted")
	return nil
}

func cmdTyping(c *resty.Client, args []string) error {
	if len(args) < 2 || (args[1] != "on" && args[1] != "off") {
		return fmt.Errorf("usage: cardexctl typing <trade-id> <on|off>")
	}
	resp, err := c.R().
		SetBody(map[string]bool{"is_typing": args[1] == "on"}).
		Post("/trades/" + args[0] + "/typing")
	return check(resp, err)
}
