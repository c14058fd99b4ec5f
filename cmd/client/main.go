package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/npezzotti/chat-relay/client"
	"github.com/npezzotti/chat-relay/internal/types"
)

var (
	serverURL string
	email     string
	password  string
	username  string
	orgId     string
	chatId    string
)

func login(serverURL, email, password string) (string, error) {
	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return "", err
	}

	resp, err := http.Post(serverURL+"/api/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login failed with status %d", resp.StatusCode)
	}

	var tr struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", err
	}

	return tr.AccessToken, nil
}

func main() {
	flag.StringVar(&serverURL, "server", "http://localhost:8000", "relay server base URL")
	flag.StringVar(&email, "email", "", "account email")
	flag.StringVar(&password, "password", "", "account password")
	flag.StringVar(&username, "username", "", "display name for sent messages")
	flag.StringVar(&orgId, "org", "", "organization id")
	flag.StringVar(&chatId, "chat", "", "chat id")
	flag.Parse()

	logger := log.New(os.Stderr, "[chat-relay-client] ", log.LstdFlags)

	if email == "" || password == "" || orgId == "" {
		logger.Fatal("email, password and org are required")
	}

	token, err := login(serverURL, email, password)
	if err != nil {
		logger.Fatal("login:", err)
	}

	agent, err := client.NewAgent(client.Config{
		ServerURL: serverURL,
		Token:     token,
		Room:      types.RoomKey{OrganizationId: orgId, ChatId: chatId},
		Sender:    username,
		Logger:    logger,
		OnMessage: func(msg types.Message) {
			ts := time.UnixMilli(msg.Timestamp).Format("15:04:05")
			fmt.Printf("[%s] %s: %s\n", ts, msg.Sender, msg.Text)
		},
		OnStateChange: func(state client.State) {
			logger.Println("connection", state)
		},
	})
	if err != nil {
		logger.Fatal("new agent:", err)
	}

	agent.Start()
	defer agent.Stop()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := scanner.Text()
		if text == "" {
			continue
		}

		if _, err := agent.Send(text); err != nil {
			logger.Println("send:", err)
		}
	}
}
