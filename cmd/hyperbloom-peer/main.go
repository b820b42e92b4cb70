// Command hyperbloom-peer is a demo two-role TCP peer: it either
// listens for one inbound connection or dials a remote one, then runs
// a HyperBloom session over the resulting net.Conn until the peer
// hangs up. It exists to exercise pkg/session against a real socket,
// not as a production node.
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hyperbloom/engine/pkg/cryptoadapter"
	"github.com/hyperbloom/engine/pkg/protocol"
	"github.com/hyperbloom/engine/pkg/session"
	"github.com/hyperbloom/engine/pkg/statusapi"
	"github.com/hyperbloom/engine/pkg/trust"
	"github.com/sirupsen/logrus"
)

var (
	listenAddr = flag.String("listen", "", "address to listen on and accept one peer")
	dialAddr   = flag.String("dial", "", "address to dial a peer at")
	keyPath    = flag.String("key", "./keys/peer.key", "path to this peer's key file")
	generate   = flag.Bool("genkey", false, "generate a new key pair and exit")
	statusAddr = flag.String("status", ":8088", "address for the introspection HTTP API")
	name       = flag.String("name", "peer", "name this session is tracked under in the status API")
)

func main() {
	flag.Parse()
	log := logrus.New()

	if *generate {
		if err := generateKeyFile(*keyPath); err != nil {
			log.Fatalf("genkey: %v", err)
		}
		log.Printf("wrote new key pair to %s", *keyPath)
		return
	}

	if *listenAddr == "" && *dialAddr == "" {
		log.Fatal("one of -listen or -dial is required")
	}

	feedKey, privateKey, err := loadKeyFile(*keyPath)
	if err != nil {
		log.Fatalf("load key: %v", err)
	}

	conn, err := acquireConn(*listenAddr, *dialAddr)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer conn.Close()

	registry := statusapi.NewRegistry()
	statusServer := statusapi.NewServer(registry, &statusapi.Config{Port: statusPort(*statusAddr)})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := statusServer.Start(ctx); err != nil {
			log.WithError(err).Warn("status API stopped")
		}
	}()

	verifier := trust.NewVerifier(cryptoadapter.Adapter{})
	s := session.New(verifier)
	s.Log = log.WithField("session", *name)

	s.OnOpen = func(o *protocol.Open) {
		log.WithField("feed", hex.EncodeToString(o.Feed)).Info("peer opened")
	}
	s.OnSecure = func(info session.SecureInfo) {
		log.WithFields(logrus.Fields{
			"remoteId":    hex.EncodeToString(info.ID),
			"chainLength": len(info.Chain),
		}).Info("session secure")
	}
	s.OnMessage = func(msg session.Message) {
		logMessage(log, msg)
	}
	s.OnChainUpdate = func(chain [][]byte) {
		log.WithField("chainLength", len(chain)).Info("chain updated")
	}
	s.OnError = func(err *session.Error) {
		log.WithField("kind", err.Kind).WithError(err).Error("session error")
	}
	s.OnClose = func() {
		registry.Untrack(*name)
		log.Info("session closed")
		cancel()
	}
	s.OnPush = func(chunk []byte) {
		if _, err := conn.Write(chunk); err != nil {
			log.WithError(err).Error("write to peer failed")
		}
	}

	registry.Track(*name, s)

	if err := s.Start(session.Options{FeedKey: feedKey, PrivateKey: privateKey}); err != nil {
		log.Fatalf("start session: %v", err)
	}

	// The session is not safe for concurrent use, so readLoop and
	// commandLoop only ever hand raw input to driveSession over these
	// channels; driveSession is the one goroutine that ever touches s.
	rawCh := make(chan []byte, 16)
	cmdCh := make(chan string, 16)
	connClosed := make(chan struct{})

	go readLoop(conn, rawCh, connClosed)
	go commandLoop(cmdCh)
	go driveSession(s, log, rawCh, cmdCh, connClosed)

	waitForShutdown(cancel)
}

func readLoop(conn net.Conn, rawCh chan<- []byte, connClosed chan<- struct{}) {
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			rawCh <- chunk
		}
		if err != nil {
			close(connClosed)
			return
		}
	}
}

// commandLoop lets an operator poke the session from stdin: "req
// <start>" issues a Request for keys at or after start.
func commandLoop(cmdCh chan<- string) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		cmdCh <- scanner.Text()
	}
}

// driveSession is the single goroutine that calls methods on s, serializing
// inbound bytes from readLoop and commands from commandLoop the way
// the session's single-threaded design requires.
func driveSession(s *session.Session, log *logrus.Logger, rawCh <-chan []byte, cmdCh <-chan string, connClosed <-chan struct{}) {
	for {
		select {
		case chunk := <-rawCh:
			if err := s.Write(chunk); err != nil {
				log.WithError(err).Error("session rejected inbound data")
				return
			}
		case line := <-cmdCh:
			fields := strings.Fields(line)
			if len(fields) < 2 || fields[0] != "req" {
				continue
			}
			if err := s.Request(&protocol.Request{Start: []byte(fields[1])}); err != nil {
				log.WithError(err).Error("request failed")
			}
		case <-connClosed:
			s.Destroy()
			return
		}
	}
}

func logMessage(log *logrus.Logger, msg session.Message) {
	switch msg.Kind {
	case protocol.KindSync:
		log.WithField("size", msg.Sync.Size).Info("received sync")
	case protocol.KindFilterOptions:
		log.WithField("size", msg.FilterOptions.Size).Info("received filter options")
	case protocol.KindData:
		log.WithField("count", len(msg.Data.Values)).Info("received data")
	case protocol.KindRequest:
		log.WithField("start", string(msg.Request.Start)).Info("received request")
	}
}

func acquireConn(listenAddr, dialAddr string) (net.Conn, error) {
	if dialAddr != "" {
		return net.Dial("tcp", dialAddr)
	}
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	defer ln.Close()
	return ln.Accept()
}

func statusPort(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return statusapi.DefaultConfig().Port
	}
	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return statusapi.DefaultConfig().Port
	}
	return port
}

func waitForShutdown(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	cancel()
}

func generateKeyFile(path string) error {
	feedKey, privateKey, err := cryptoadapter.GenerateSigningKey()
	if err != nil {
		return err
	}
	if dir := dirOf(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	contents := fmt.Sprintf("%s\n%s\n", hex.EncodeToString(feedKey), hex.EncodeToString(privateKey))
	return os.WriteFile(path, []byte(contents), 0600)
}

func loadKeyFile(path string) (feedKey, privateKey []byte, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		return nil, nil, fmt.Errorf("key file %s: expected 2 lines, got %d", path, len(lines))
	}
	feedKey, err = hex.DecodeString(strings.TrimSpace(lines[0]))
	if err != nil {
		return nil, nil, fmt.Errorf("key file %s: bad feed key: %w", path, err)
	}
	privateKey, err = hex.DecodeString(strings.TrimSpace(lines[1]))
	if err != nil {
		return nil, nil, fmt.Errorf("key file %s: bad private key: %w", path, err)
	}
	return feedKey, privateKey, nil
}

func dirOf(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i < 0 {
		return ""
	}
	return path[:i]
}
