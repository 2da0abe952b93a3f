// Command setup walks through the interactive login flow against a running
// gateway: API credentials, phone number, verification code, and the 2FA
// password when the account requires one.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	var (
		baseURL string
		timeout time.Duration
	)

	flag.StringVar(&baseURL, "url", "http://localhost:8000", "Base URL of the running gateway")
	flag.DurationVar(&timeout, "timeout", 60*time.Second, "HTTP request timeout")
	flag.Parse()

	client := &gatewayClient{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: timeout},
	}
	reader := bufio.NewReader(os.Stdin)

	status, err := client.authStatus()
	if err != nil {
		fatalf("gateway unreachable at %s: %v", client.base, err)
	}
	if status.IsAuthenticated {
		fmt.Println("Already authenticated. Nothing to do.")
		return
	}

	if !status.Setup {
		fmt.Println("API credentials are not configured yet.")
		fmt.Println("Get them from https://my.telegram.org/apps first.")
		apiID := prompt(reader, "API ID: ")
		apiHash := prompt(reader, "API hash: ")
		if err := client.setup(apiID, apiHash); err != nil {
			fatalf("setup failed: %v", err)
		}
		fmt.Println("Credentials saved.")
	}

	phone := prompt(reader, "Phone number (international format, e.g. +15551234567): ")
	sent, err := client.sendCode(phone)
	if err != nil {
		fatalf("send code failed: %v", err)
	}
	fmt.Printf("Verification code sent (valid for %d seconds).\n", sent.Timeout)

	code := prompt(reader, "Code: ")
	verified, err := client.verifyCode(code)
	if err != nil {
		fatalf("verify code failed: %v", err)
	}

	if verified.NeedsPassword {
		password := prompt(reader, "Two-factor password: ")
		verified, err = client.verifyPassword(password)
		if err != nil {
			fatalf("verify password failed: %v", err)
		}
	}

	if verified.User.FirstName != "" {
		fmt.Printf("Signed in as %s.\n", strings.TrimSpace(verified.User.FirstName+" "+verified.User.LastName))
	} else {
		fmt.Println("Signed in.")
	}
	fmt.Println("The session token is persisted; restarts will reuse it.")
}

func prompt(reader *bufio.Reader, label string) string {
	for {
		fmt.Print(label)
		line, err := reader.ReadString('\n')
		if err != nil {
			fatalf("read input: %v", err)
		}
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

type gatewayClient struct {
	base string
	http *http.Client
}

type authStatusReply struct {
	IsAuthenticated bool `json:"isAuthenticated"`
	NeedsPassword   bool `json:"needsPassword"`
	Setup           bool `json:"setup"`
}

type sendCodeReply struct {
	Success       bool   `json:"success"`
	PhoneCodeHash string `json:"phoneCodeHash"`
	Timeout       int    `json:"timeout"`
}

type verifyReply struct {
	Success       bool   `json:"success"`
	NeedsPassword bool   `json:"needsPassword"`
	Message       string `json:"message"`
	Session       string `json:"session"`
	User          struct {
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		Username  string `json:"username"`
	} `json:"user"`
}

func (c *gatewayClient) authStatus() (authStatusReply, error) {
	var reply authStatusReply
	err := c.call(http.MethodGet, "/auth/status", nil, &reply)
	return reply, err
}

func (c *gatewayClient) setup(apiID, apiHash string) error {
	return c.call(http.MethodPost, "/auth/setup", map[string]string{
		"apiId":   apiID,
		"apiHash": apiHash,
	}, nil)
}

func (c *gatewayClient) sendCode(phone string) (sendCodeReply, error) {
	var reply sendCodeReply
	err := c.call(http.MethodPost, "/auth/send-code", map[string]string{"phoneNumber": phone}, &reply)
	return reply, err
}

func (c *gatewayClient) verifyCode(code string) (verifyReply, error) {
	var reply verifyReply
	err := c.call(http.MethodPost, "/auth/verify-code", map[string]string{"code": code}, &reply)
	return reply, err
}

func (c *gatewayClient) verifyPassword(password string) (verifyReply, error) {
	var reply verifyReply
	err := c.call(http.MethodPost, "/auth/verify-password", map[string]string{"password": password}, &reply)
	return reply, err
}

func (c *gatewayClient) call(method, path string, payload, reply any) error {
	var body *bytes.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(encoded)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw := json.RawMessage{}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return fmt.Errorf("unexpected response (%s)", resp.Status)
	}
	if resp.StatusCode >= 400 {
		var failure struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &failure) == nil && failure.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, failure.Error)
		}
		return fmt.Errorf("request failed (%s)", resp.Status)
	}
	if reply == nil {
		return nil
	}
	return json.Unmarshal(raw, reply)
}
