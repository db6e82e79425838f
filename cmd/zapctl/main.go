package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"
)

func main() {
	addrFlag := flag.String("addr", "http://localhost:3000", "relay base URL")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := &client{base: *addrFlag, http: &http.Client{Timeout: 30 * time.Second}}

	switch args[0] {
	case "status":
		cmdStatus(c, *jsonFlag)
	case "qr":
		cmdQR(c)
	case "contacts":
		cmdList(c, "/api/contacts", *jsonFlag)
	case "groups":
		cmdList(c, "/api/groups", *jsonFlag)
	case "messages":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: zapctl messages <chatID>")
			os.Exit(1)
		}
		cmdMessages(c, args[1], *jsonFlag)
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: zapctl send <to> <message>")
			os.Exit(1)
		}
		cmdSend(c, args[1], args[2])
	case "bulk":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: zapctl bulk <job.json>")
			os.Exit(1)
		}
		cmdBulk(c, args[1])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: zapctl [--addr <url>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status               Show session status")
	fmt.Fprintln(os.Stderr, "  qr                   Show pending authentication challenge")
	fmt.Fprintln(os.Stderr, "  contacts             List contacts")
	fmt.Fprintln(os.Stderr, "  groups               List groups")
	fmt.Fprintln(os.Stderr, "  messages <chatID>    Show recent messages for a chat")
	fmt.Fprintln(os.Stderr, "  send <to> <message>  Send a text message")
	fmt.Fprintln(os.Stderr, "  bulk <job.json>      Run a bulk personalized send")
}

type client struct {
	base string
	http *http.Client
}

func (c *client) get(path string, out any) error {
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	return decodeResponse(resp, out)
}

func (c *client) post(path string, in any, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	resp, err := c.http.Post(c.base+path, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func cmdStatus(c *client, jsonOut bool) {
	var status struct {
		Connected     bool `json:"connected"`
		HasChallenge  bool `json:"hasChallenge"`
		ContactsCount int  `json:"contactsCount"`
		GroupsCount   int  `json:"groupsCount"`
	}
	if err := c.get("/api/status", &status); err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(status)
		return
	}
	state := "disconnected"
	if status.Connected {
		state = "connected"
	}
	fmt.Printf("Status:   %s\n", state)
	fmt.Printf("Contacts: %d\n", status.ContactsCount)
	fmt.Printf("Groups:   %d\n", status.GroupsCount)
	if status.HasChallenge {
		fmt.Println("Authentication required. Run: zapctl qr")
	}
}

func cmdQR(c *client) {
	var body struct {
		Challenge string `json:"challenge"`
	}
	if err := c.get("/api/qr", &body); err != nil {
		fail(err)
	}
	fmt.Println(body.Challenge)
}

func cmdList(c *client, path string, jsonOut bool) {
	var entries []struct {
		JID  string `json:"jid"`
		Name string `json:"name"`
	}
	if err := c.get(path, &entries); err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(entries)
		return
	}
	if len(entries) == 0 {
		fmt.Println("No entries.")
		return
	}
	for _, e := range entries {
		fmt.Printf("%-40s %s\n", e.JID, e.Name)
	}
}

func cmdMessages(c *client, chatID string, jsonOut bool) {
	var records []struct {
		From      string `json:"from"`
		Message   string `json:"message"`
		Type      string `json:"type"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := c.get("/api/messages/"+url.PathEscape(chatID), &records); err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(records)
		return
	}
	for _, r := range records {
		ts := time.UnixMilli(r.Timestamp).Format("15:04:05")
		fmt.Printf("[%s] %-8s %s: %s\n", ts, r.Type, r.From, r.Message)
	}
}

func cmdSend(c *client, to, message string) {
	var resp struct {
		MessageID string `json:"messageId"`
	}
	req := map[string]string{"to": to, "message": message}
	if err := c.post("/api/send-message", req, &resp); err != nil {
		fail(err)
	}
	fmt.Printf("Sent: %s\n", resp.MessageID)
}

func cmdBulk(c *client, jobPath string) {
	raw, err := os.ReadFile(jobPath)
	if err != nil {
		fail(err)
	}
	var job map[string]any
	if err := json.Unmarshal(raw, &job); err != nil {
		fail(fmt.Errorf("parse %s: %w", jobPath, err))
	}
	var resp struct {
		Results struct {
			Total   int `json:"total"`
			Success int `json:"success"`
			Failed  int `json:"failed"`
			Errors  []struct {
				Recipient string `json:"recipient"`
				Error     string `json:"error"`
			} `json:"errors"`
		} `json:"results"`
	}
	if err := c.post("/api/send-bulk-personalized", job, &resp); err != nil {
		fail(err)
	}
	fmt.Printf("Total:   %d\n", resp.Results.Total)
	fmt.Printf("Success: %d\n", resp.Results.Success)
	fmt.Printf("Failed:  %d\n", resp.Results.Failed)
	for _, e := range resp.Results.Errors {
		fmt.Printf("  %s: %s\n", e.Recipient, e.Error)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
