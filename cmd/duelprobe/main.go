// Command duelprobe is a smoke-test client for the duel WebSocket server.
// It logs two players in, creates a room, connects both over the socket and
// drives a join → start-game exchange, printing every event it receives.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	host := flag.String("host", "localhost:8390", "API server host")
	handleA := flag.String("handle-a", "tourist", "First player's judge handle")
	handleB := flag.String("handle-b", "Petr", "Second player's judge handle")
	start := flag.Bool("start", false, "Have the host start the game")
	duration := flag.Duration("duration", 30*time.Second, "How long to listen for events")
	flag.Parse()

	log.Printf("Duel probe against %s", *host)

	tokenA, err := login(*host, *handleA)
	if err != nil {
		log.Fatalf("login %s: %v", *handleA, err)
	}
	tokenB, err := login(*host, *handleB)
	if err != nil {
		log.Fatalf("login %s: %v", *handleB, err)
	}
	log.Printf("both players logged in")

	roomCode, err := createRoom(*host, tokenA)
	if err != nil {
		log.Fatalf("create room: %v", err)
	}
	log.Printf("room created: %s", roomCode)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	stop := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)
	go runPlayer(*host, tokenA, *handleA, roomCode, *start, stop, &wg)
	go runPlayer(*host, tokenB, *handleB, roomCode, false, stop, &wg)

	select {
	case <-time.After(*duration):
		log.Println("listen window elapsed")
	case <-interrupt:
		log.Println("interrupted")
	}
	close(stop)
	wg.Wait()
}

func login(host, handle string) (string, error) {
	body, _ := json.Marshal(map[string]string{"handle": handle})
	resp, err := http.Post(fmt.Sprintf("http://%s/api/auth/login", host), "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login failed with status %d", resp.StatusCode)
	}

	var result struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Token, nil
}

func createRoom(host, token string) (string, error) {
	body, _ := json.Marshal(map[string]int{"minRating": 800, "maxRating": 1600})
	req, _ := http.NewRequest(http.MethodPost, fmt.Sprintf("http://%s/api/rooms/create", host), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("create room failed with status %d", resp.StatusCode)
	}

	var result struct {
		Room struct {
			Code string `json:"roomCode"`
		} `json:"room"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Room.Code, nil
}

func getTicket(host, token string) (string, error) {
	req, _ := http.NewRequest(http.MethodPost, fmt.Sprintf("http://%s/api/ws/ticket", host), nil)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ticket issuance failed with status %d", resp.StatusCode)
	}

	var result struct {
		Ticket string `json:"ticket"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Ticket, nil
}

func runPlayer(host, token, handle, roomCode string, startGame bool, stop <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	ticket, err := getTicket(host, token)
	if err != nil {
		log.Printf("[%s] ticket: %v", handle, err)
		return
	}

	u := url.URL{Scheme: "ws", Host: host, Path: "/api/ws/duel", RawQuery: "ticket=" + ticket}
	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Printf("[%s] dial: %v", handle, err)
		return
	}
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	defer func() { _ = conn.Close() }()

	send := func(eventType string, payload map[string]any) {
		msg, _ := json.Marshal(map[string]any{"type": eventType, "payload": payload})
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Printf("[%s] write %s: %v", handle, eventType, err)
		}
	}

	send("join-room", map[string]any{"roomCode": roomCode})
	if startGame {
		// Give the second player a moment to be seated.
		time.AfterFunc(2*time.Second, func() {
			send("start-game", map[string]any{"roomCode": roomCode})
		})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				return
			}
			log.Printf("[%s] <- %s", handle, message)
		}
	}()

	select {
	case <-stop:
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	case <-done:
	}
}
