// Command chat is a line-oriented chat client.
//
// Plain input is broadcast to everyone. Commands:
//
//	/register <user> <password>
//	/login <user> <password>
//	/dm <user> <message>
//	/fetch [limit]
//	/read <id> [id...]
//	/readfrom <user>
//	/delete <user> <id> [id...]
//	/delete-account
//	/quit
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/twinwire/chat/pkg/client"
	"github.com/twinwire/chat/pkg/protocol"
)

func main() {
	addr := flag.String("addr", "localhost:5555", "server address")
	encoding := flag.String("encoding", "custom", "wire encoding: json or custom")
	flag.Parse()

	conn, err := client.Dial(*addr, *encoding)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	var username string

	// Printer goroutine: everything the server pushes goes to stdout
	go func() {
		for {
			in, err := conn.Next()
			if err != nil {
				fmt.Println("* connection closed")
				os.Exit(0)
			}
			printIncoming(in)
		}
	}()

	fmt.Printf("Connected to %s (%s). /register or /login to start.\n", *addr, *encoding)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			if username == "" {
				fmt.Println("* log in first")
				continue
			}
			if err := conn.Chat(username, line); err != nil {
				log.Fatalf("Send failed: %v", err)
			}
			continue
		}

		fields := strings.Fields(line)
		cmd, args := fields[0], fields[1:]
		switch cmd {
		case "/register":
			if len(args) != 2 {
				fmt.Println("usage: /register <user> <password>")
				continue
			}
			if err := conn.Register(args[0], args[1]); err != nil {
				log.Fatalf("Send failed: %v", err)
			}
			username = args[0]
		case "/login":
			if len(args) != 2 {
				fmt.Println("usage: /login <user> <password>")
				continue
			}
			if err := conn.Login(args[0], args[1]); err != nil {
				log.Fatalf("Send failed: %v", err)
			}
			username = args[0]
		case "/dm":
			if len(args) < 2 {
				fmt.Println("usage: /dm <user> <message>")
				continue
			}
			msg := strings.Join(args[1:], " ")
			if err := conn.DM(username, msg, args[0]); err != nil {
				log.Fatalf("Send failed: %v", err)
			}
		case "/fetch":
			var limit uint64
			if len(args) == 1 {
				limit, _ = strconv.ParseUint(args[0], 10, 32)
			}
			if err := conn.Fetch(username, uint32(limit)); err != nil {
				log.Fatalf("Send failed: %v", err)
			}
		case "/read":
			ids, ok := parseIDs(args)
			if !ok {
				fmt.Println("usage: /read <id> [id...]")
				continue
			}
			if err := conn.MarkRead(username, ids...); err != nil {
				log.Fatalf("Send failed: %v", err)
			}
		case "/readfrom":
			if len(args) != 1 {
				fmt.Println("usage: /readfrom <user>")
				continue
			}
			if err := conn.MarkReadFrom(username, args[0]); err != nil {
				log.Fatalf("Send failed: %v", err)
			}
		case "/delete":
			if len(args) < 2 {
				fmt.Println("usage: /delete <user> <id> [id...]")
				continue
			}
			ids, ok := parseIDs(args[1:])
			if !ok {
				fmt.Println("usage: /delete <user> <id> [id...]")
				continue
			}
			if err := conn.Delete(username, args[0], ids...); err != nil {
				log.Fatalf("Send failed: %v", err)
			}
		case "/delete-account":
			if err := conn.DeleteAccount(username); err != nil {
				log.Fatalf("Send failed: %v", err)
			}
		case "/quit":
			if username != "" {
				conn.Logout(username)
			}
			return
		default:
			fmt.Printf("unknown command %s\n", cmd)
		}
	}
}

func parseIDs(args []string) ([]uint64, bool) {
	if len(args) == 0 {
		return nil, false
	}
	ids := make([]uint64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}

func printIncoming(in *client.Incoming) {
	if in.Response != nil {
		resp := in.Response
		marker := "*"
		if resp.Status == protocol.StatusError {
			marker = "!"
		}
		fmt.Printf("%s %s\n", marker, resp.Message)
		return
	}

	env := in.Envelope
	when := time.UnixMilli(env.Timestamp).Format("15:04:05")
	switch env.Kind {
	case protocol.KindChat:
		fmt.Printf("[%s] <%s> %s\n", when, env.Sender, env.Content)
	case protocol.KindDM:
		fmt.Printf("[%s] <%s (dm)> %s\n", when, env.Sender, env.Content)
	case protocol.KindJoin:
		fmt.Printf("[%s] * %s joined\n", when, env.Sender)
	case protocol.KindLeave:
		fmt.Printf("[%s] * %s left\n", when, env.Sender)
	case protocol.KindDeleteNotification:
		fmt.Printf("[%s] * %s deleted %d messages\n", when, env.Sender, len(env.MessageIDs))
	case protocol.KindDeleteAccount:
		fmt.Printf("[%s] * %s deleted their account\n", when, env.Sender)
	default:
		fmt.Printf("[%s] * %s: %s\n", when, env.Kind, env.Content)
	}
}
