// Command ilinkclient is a minimal counterparty for exercising a
// gateway's ILink3 session handshake end to end, adapted from the
// teacher's cmd/client/main.go: a receiver goroutine decodes frames off
// the wire, a stdin command loop drives negotiate/establish/terminate
// and ad-hoc business sends, same shape as the original's auth/message/
// heartbeat commands.
package main

import (
	"bufio"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strings"

	"ilink3gw/clock"
	"ilink3gw/framer"
	"ilink3gw/ilink3"
	"ilink3gw/protocol"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:8080", "gateway address")
	sessionID := flag.String("session", "client-1", "ILink3 SessionID")
	firmID := flag.String("firm", "FIRM1", "ILink3 FirmID")
	hmacSecret := flag.String("hmac-secret", "", "base64url HMAC secret, must match the gateway's")
	flag.Parse()

	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected to %s as session %s", *serverAddr, *sessionID)

	owner := &consoleOwner{conn: conn}
	proxy := &wireProxy{conn: conn}
	session := ilink3.New(ilink3.Config{
		SessionID:            *sessionID,
		FirmID:               *firmID,
		TradingSystemName:    "ilinkclient",
		TradingSystemVersion: "1.0",
		TradingSystemVendor:  "ilink3gw",
		KeepAliveIntervalMS:  10000,
		HMACSecretBase64URL:  *hmacSecret,
	}, proxy, owner, clock.System{})

	go receiveFrames(conn, session)

	if err := session.SendNegotiate(); err != nil {
		log.Fatalf("negotiate failed: %v", err)
	}

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("\nCommands:")
	fmt.Println("  send <text>  - send a business message once established")
	fmt.Println("  terminate    - end the session")
	fmt.Println("  quit         - exit")
	fmt.Println()

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		switch parts[0] {
		case "quit":
			fmt.Println("exiting...")
			return
		case "terminate":
			if err := session.Terminate(); err != nil {
				log.Printf("terminate failed: %v", err)
			}
		case "send":
			if len(parts) < 2 {
				fmt.Println("usage: send <text>")
				continue
			}
			if err := session.ClaimSend(); err != nil {
				log.Printf("send rejected: %v", err)
				continue
			}
			if err := sendBusinessFrame(conn, session, parts[1]); err != nil {
				log.Printf("send failed: %v", err)
			}
		default:
			fmt.Println("unknown command")
		}
	}
}

// consoleOwner implements ilink3.Owner by logging and tearing down the
// connection, mirroring how the teacher's client treats a server-
// initiated kick.
type consoleOwner struct {
	conn net.Conn
}

func (o *consoleOwner) RequestDisconnect(_ uint64, reason ilink3.DisconnectReason) error {
	log.Printf("session requested disconnect: reason=%d", reason)
	return o.conn.Close()
}

func (o *consoleOwner) OnSessionDeath(uuid uint64) {
	log.Printf("session %d died", uuid)
}

// wireProxy implements ilink3.Proxy by packing control frames straight
// onto the TCP connection, the client-side mirror of the gateway's
// connProxy.
type wireProxy struct {
	conn net.Conn
}

func (p *wireProxy) send(templateID uint16, uuid uint64) error {
	body := make([]byte, 8)
	binary.BigEndian.PutUint64(body, uuid)
	packed, err := protocol.Pack(&protocol.Frame{TemplateID: templateID, Body: body})
	if err != nil {
		return err
	}
	_, err = p.conn.Write(packed)
	return err
}

func (p *wireProxy) SendNegotiate(req ilink3.NegotiateRequest) error {
	return p.send(framer.TemplateNegotiate, req.UUID)
}

func (p *wireProxy) SendEstablish(req ilink3.EstablishRequest) error {
	return p.send(framer.TemplateEstablish, req.UUID)
}

func (p *wireProxy) SendTerminate(uuid uint64, _ ilink3.DisconnectReason) error {
	return p.send(framer.TemplateTerminate, uuid)
}

// sendBusinessFrame publishes an ordinary business message, outside the
// session-management template range, so the gateway routes it to the
// durable inbound log instead of dispatching it inline.
func sendBusinessFrame(conn net.Conn, session *ilink3.Session, text string) error {
	frame := &protocol.Frame{
		TemplateID: framer.TemplateConnectNotice + 100, // 101: outside both the notice ids (1-6) and the ILink3 ids (500-507)
		Body:       []byte(text),
	}
	packed, err := protocol.Pack(frame)
	if err != nil {
		return err
	}
	_, err = conn.Write(packed)
	if err == nil {
		session.AdvanceSentSeq()
	}
	return err
}

// receiveFrames decodes frames off the wire and dispatches session-
// management responses to the session state machine, the same inline
// dispatch the gateway performs in dispatchControlFrame.
func receiveFrames(conn net.Conn, session *ilink3.Session) {
	reader := bufio.NewReader(conn)
	for {
		frame, err := protocol.Unpack(reader)
		if err != nil {
			log.Printf("receive error: %v", err)
			return
		}

		switch frame.TemplateID {
		case framer.TemplateNegotiationResponse:
			uuid := peerUUID(frame, session.UUID)
			if err := session.OnNegotiationResponse(uuid); err != nil {
				log.Printf("negotiation response rejected: %v", err)
				continue
			}
			log.Printf("negotiated, establishing...")
		case framer.TemplateNegotiationReject:
			log.Printf("negotiation rejected")
			_ = session.RejectNegotiate()
		case framer.TemplateEstablishmentAck:
			uuid := peerUUID(frame, session.UUID)
			if err := session.OnEstablishmentAck(uuid); err != nil {
				log.Printf("establishment ack rejected: %v", err)
				continue
			}
			log.Printf("established, ready to send")
		case framer.TemplateEstablishmentReject:
			log.Printf("establishment rejected")
			_ = session.RejectEstablish()
		case framer.TemplateTerminate:
			log.Printf("peer terminated the session")
			_ = session.OnTerminate()
			return
		default:
			fmt.Printf("\n[business] %s\n", string(frame.Body))
		}
	}
}

func peerUUID(frame *protocol.Frame, fallback uint64) uint64 {
	if len(frame.Body) < 8 {
		return fallback
	}
	return binary.BigEndian.Uint64(frame.Body[:8])
}
