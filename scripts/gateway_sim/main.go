// Command gateway_sim is a local stand-in for the remote execution gateway:
// newline-delimited JSON over TCP, one reply per request. Useful for dry
// runs against a full execution core without touching a broker.
//
//	go run ./scripts/gateway_sim -addr 127.0.0.1:5555 -reject 0.1 -drop 0.05
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net"
	"os"
	"sync/atomic"

	"execution-core/internal/gateway"
)

var (
	rejectRate = flag.Float64("reject", 0, "fraction of orders to reject")
	dropRate   = flag.Float64("drop", 0, "fraction of orders to swallow (client sees a timeout)")
	balance    = flag.Float64("balance", 100_000, "simulated account balance")
	seq        atomic.Int64
)

func main() {
	addr := flag.String("addr", "127.0.0.1:5555", "listen address")
	flag.Parse()

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "listen: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("gateway simulator listening on %s (reject=%.2f drop=%.2f)\n", *addr, *rejectRate, *dropRate)

	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go serve(conn)
	}
}

func serve(conn net.Conn) {
	defer conn.Close()
	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		var req gateway.Request
		if err := dec.Decode(&req); err != nil {
			return
		}
		reply := handle(req)
		if reply == nil {
			continue
		}
		if err := enc.Encode(reply); err != nil {
			return
		}
	}
}

func handle(req gateway.Request) *gateway.Reply {
	switch req.Action {
	case gateway.ActionPing:
		return &gateway.Reply{Status: gateway.StatusPong, RequestID: req.RequestID}

	case gateway.ActionOrderSend:
		if rand.Float64() < *dropRate {
			fmt.Printf("dropping %s %s (client will time out)\n", req.Symbol, req.RequestID)
			return nil
		}
		if rand.Float64() < *rejectRate {
			return &gateway.Reply{
				Status:    gateway.StatusRejected,
				RequestID: req.RequestID,
				ErrorCode: "SIM_REJECT",
				Message:   "rejected by simulator",
			}
		}
		return &gateway.Reply{
			Status:    gateway.StatusDone,
			RequestID: req.RequestID,
			Deal:      fmt.Sprintf("sim-%d", seq.Add(1)),
			Price:     req.Price,
		}

	case gateway.ActionClose:
		return &gateway.Reply{
			Status:    gateway.StatusDone,
			RequestID: req.RequestID,
			Deal:      fmt.Sprintf("sim-close-%d", seq.Add(1)),
		}

	case gateway.ActionGetAccount:
		return &gateway.Reply{
			Status:    gateway.StatusDone,
			RequestID: req.RequestID,
			Account: &gateway.Account{
				Balance:  *balance,
				Equity:   *balance * (0.99 + rand.Float64()*0.02),
				Exposure: *balance * rand.Float64(),
			},
		}

	case gateway.ActionGetPositions:
		return &gateway.Reply{Status: gateway.StatusDone, RequestID: req.RequestID}

	default:
		return &gateway.Reply{
			Status:    gateway.StatusError,
			RequestID: req.RequestID,
			Message:   "unknown action " + string(req.Action),
		}
	}
}
