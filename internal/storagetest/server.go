// Package storagetest runs an in-process storage server for tests. It speaks
// the same protocol as the production server, including its habit of sending
// sizes, headers and flow-control tokens without terminator.
package storagetest

import (
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prife/ftpbridge/wire"
)

const Banner = "Welcome to the FTP server!"

// Handler lets a test take over a command. It returns false to fall back to
// the default behaviour.
type Handler func(cmd string, conn *wire.Conn) bool

type Server struct {
	fragment    int
	handler     Handler
	noGoodbye   bool
	socketReads bool

	ln net.Listener
	wg sync.WaitGroup

	mu         sync.Mutex
	dirs       map[string]*dir
	transcript []string
	sessions   int
	conns      map[net.Conn]struct{}
	closed     bool
}

type dir struct {
	names []string
	files map[string][]byte
}

type Option func(*Server)

// WithFragment splits every write into pieces of at most n bytes, sent with a
// short pause in between.
func WithFragment(n int) Option {
	return func(s *Server) { s.fragment = n }
}

// WithHandler lets h see every command first.
func WithHandler(h Handler) Option {
	return func(s *Server) { s.handler = h }
}

// WithoutGoodbye makes the server ignore QUIT without answering.
func WithoutGoodbye() Option {
	return func(s *Server) { s.noGoodbye = true }
}

// WithSocketReads makes every socket read one message, the way the
// production server reads with a single recv. A newline inside a read does
// not split it, so a client that lets two messages merge is caught.
func WithSocketReads() Option {
	return func(s *Server) { s.socketReads = true }
}

// NewServer starts a server on a loopback port and stops it when the test ends.
func NewServer(t testing.TB, opts ...Option) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("storagetest: listen: %v", err)
	}
	s := &Server{
		ln:    ln,
		dirs:  make(map[string]*dir),
		conns: make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

func (s *Server) Host() string {
	return s.ln.Addr().(*net.TCPAddr).IP.String()
}

func (s *Server) Port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	s.ln.Close()
	s.wg.Wait()
}

// Put stores a file as if it had been uploaded.
func (s *Server) Put(user, name string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putLocked(user, name, data)
}

// Mkdir creates an empty directory for user.
func (s *Server) Mkdir(user string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirLocked(user, true)
}

func (s *Server) File(user, name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.dirLocked(user, false)
	if d == nil {
		return nil, false
	}
	data, ok := d.files[name]
	return data, ok
}

// Files returns the names in user's directory in listing order, or nil if
// the directory does not exist.
func (s *Server) Files(user string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.dirLocked(user, false)
	if d == nil {
		return nil
	}
	return append([]string(nil), d.names...)
}

// Transcript returns what happened on the wire: "> " lines were received
// from clients, "< " lines were sent to them. Payload bytes are left out.
func (s *Server) Transcript() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.transcript...)
}

// Count returns how many transcript entries equal entry.
func (s *Server) Count(entry string) int {
	n := 0
	for _, e := range s.Transcript() {
		if e == entry {
			n++
		}
	}
	return n
}

// CountPrefix returns how many transcript entries start with prefix.
func (s *Server) CountPrefix(prefix string) int {
	n := 0
	for _, e := range s.Transcript() {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

// Sessions returns the number of connections accepted so far.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions
}

// WaitIdle waits until every accepted connection has been closed.
func (s *Server) WaitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		n := len(s.conns)
		s.mu.Unlock()
		if n == 0 {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func (s *Server) putLocked(user, name string, data []byte) {
	d := s.dirLocked(user, true)
	if _, ok := d.files[name]; !ok {
		d.names = append(d.names, name)
	}
	d.files[name] = append([]byte(nil), data...)
}

func (s *Server) dirLocked(user string, create bool) *dir {
	d, ok := s.dirs[user]
	if !ok && create {
		d = &dir{files: make(map[string][]byte)}
		s.dirs[user] = d
	}
	return d
}

func (s *Server) record(entry string) {
	s.mu.Lock()
	s.transcript = append(s.transcript, entry)
	s.mu.Unlock()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		c, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			c.Close()
			return
		}
		s.sessions++
		s.conns[c] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, c)
				s.mu.Unlock()
				c.Close()
			}()
			s.handle(c)
		}()
	}
}

// peer is the server side of one client connection.
type peer struct {
	s    *Server
	raw  net.Conn
	conn *wire.Conn
}

func (p *peer) send(msg string) error {
	p.s.record("< " + strings.TrimRight(msg, "\n"))
	return p.sendRaw([]byte(msg))
}

func (p *peer) sendRaw(buf []byte) error {
	if p.s.fragment <= 0 {
		_, err := p.raw.Write(buf)
		return err
	}
	for len(buf) > 0 {
		n := p.s.fragment
		if n > len(buf) {
			n = len(buf)
		}
		if _, err := p.raw.Write(buf[:n]); err != nil {
			return err
		}
		buf = buf[n:]
		time.Sleep(time.Millisecond)
	}
	return nil
}

// recv reads one message from the client: a line, or with WithSocketReads
// whatever one socket read returns.
func (p *peer) recv() (string, error) {
	if p.s.socketReads {
		return p.recvRead()
	}
	line, err := p.conn.ReadLine()
	if err != nil {
		return "", err
	}
	p.s.record("> " + line)
	return line, nil
}

func (p *peer) recvRead() (string, error) {
	buf := make([]byte, 1024)
	n, err := p.conn.Read(buf)
	if n == 0 {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return "", err
	}
	msg := strings.TrimSpace(string(buf[:n]))
	p.s.record("> " + msg)
	return msg, nil
}

func (s *Server) handle(c net.Conn) {
	p := &peer{
		s:   s,
		raw: c,
		conn: wire.NewConn(c, wire.Options{
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			SettleWindow: 20 * time.Millisecond,
		}),
	}
	if err := p.send(Banner + "\n"); err != nil {
		return
	}

	for {
		cmd, err := p.recv()
		if err != nil {
			return
		}
		cmd = strings.TrimSpace(cmd)
		if cmd == "" {
			return
		}
		if s.handler != nil && s.handler(cmd, p.conn) {
			continue
		}

		var herr error
		switch {
		case strings.HasPrefix(cmd, wire.CmdList):
			herr = p.list(cmd)
		case strings.HasPrefix(cmd, wire.CmdUploadAllTo):
			herr = p.uploadAll(cmd)
		case strings.HasPrefix(cmd, wire.CmdUploadTo):
			herr = p.upload(cmd)
		case strings.HasPrefix(cmd, wire.CmdDownloadAllFrom):
			herr = p.downloadAll(cmd)
		case strings.HasPrefix(cmd, wire.CmdDownloadFrom):
			herr = p.download(cmd)
		case strings.HasPrefix(cmd, wire.CmdDeleteFrom):
			herr = p.delete(cmd)
		case strings.HasPrefix(cmd, wire.CmdQuit):
			if !s.noGoodbye {
				p.send("Goodbye!\n")
				return
			}
		default:
			herr = p.send("Invalid command!\n")
		}
		if herr != nil {
			return
		}
	}
}

func safePath(dir string) bool {
	return !strings.Contains(dir, "..") && !strings.HasPrefix(dir, "/")
}

func (p *peer) list(cmd string) error {
	parts := strings.SplitN(cmd, " ", 2)
	if len(parts) < 2 || !safePath(parts[1]) {
		return p.send("Invalid directory path\n")
	}
	names := p.s.Files(parts[1])
	if names == nil {
		return p.send(wire.DirectoryNotFound + "\n")
	}
	return p.send(strings.Join(names, "\n") + "\n")
}

func (p *peer) upload(cmd string) error {
	parts := strings.SplitN(cmd, " ", 3)
	if len(parts) < 3 {
		return p.send("Invalid command format\n")
	}
	user, name := parts[1], parts[2]
	if !safePath(user) {
		return p.send("Invalid directory path\n")
	}

	line, err := p.recv()
	if err != nil {
		return err
	}
	size, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil {
		return err
	}
	if err := p.send(wire.TokenReady); err != nil {
		return err
	}
	data, err := p.conn.ReadExactly(size)
	if err != nil {
		return err
	}
	p.s.Put(user, name, data)
	return p.send(fmt.Sprintf("File uploaded successfully to %s!\n", user))
}

func (p *peer) uploadAll(cmd string) error {
	parts := strings.Split(cmd, " ")
	if len(parts) < 3 {
		return p.send("Invalid command format\n")
	}
	user := parts[1]
	n, err := strconv.Atoi(parts[2])
	if err != nil {
		return p.send("Invalid number of files\n")
	}
	if !safePath(user) {
		return p.send("Invalid directory path\n")
	}
	p.s.Mkdir(user)

	if err := p.send(wire.TokenReady); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		header, err := p.recv()
		if err != nil {
			return err
		}
		name, size, err := wire.ParseFileHeader(header)
		if err != nil {
			return err
		}
		if err := p.send(wire.TokenReady); err != nil {
			return err
		}
		data, err := p.conn.ReadExactly(int(size))
		if err != nil {
			return err
		}
		p.s.Put(user, name, data)
		if err := p.send(wire.TokenNext); err != nil {
			return err
		}
	}
	return p.send(fmt.Sprintf("All files uploaded successfully to %s!\n", user))
}

func (p *peer) download(cmd string) error {
	parts := strings.SplitN(cmd, " ", 3)
	if len(parts) < 3 {
		return p.send("Invalid command format\n")
	}
	user, name := parts[1], parts[2]
	if !safePath(user) {
		return p.send("Invalid directory path\n")
	}

	data, ok := p.s.File(user, name)
	if !ok {
		return p.send("-1")
	}
	if err := p.send(strconv.Itoa(len(data))); err != nil {
		return err
	}
	if _, err := p.recv(); err != nil {
		return err
	}
	return p.sendRaw(data)
}

func (p *peer) downloadAll(cmd string) error {
	parts := strings.SplitN(cmd, " ", 2)
	if len(parts) < 2 {
		return p.send("Invalid command format\n")
	}
	user := parts[1]
	if !safePath(user) {
		return p.send("Invalid directory path\n")
	}

	names := p.s.Files(user)
	if names == nil {
		return p.send("0")
	}
	if err := p.send(strconv.Itoa(len(names))); err != nil {
		return err
	}
	if _, err := p.recv(); err != nil {
		return err
	}
	for _, name := range names {
		data, _ := p.s.File(user, name)
		if err := p.send(wire.FormatFileHeader(name, int64(len(data)))); err != nil {
			return err
		}
		if _, err := p.recv(); err != nil {
			return err
		}
		if err := p.sendRaw(data); err != nil {
			return err
		}
		if _, err := p.recv(); err != nil {
			return err
		}
	}
	return p.send("All files downloaded successfully!\n")
}

func (p *peer) delete(cmd string) error {
	parts := strings.SplitN(cmd, " ", 3)
	if len(parts) < 3 {
		return p.send("Invalid command format\n")
	}
	user, name := parts[1], parts[2]
	if !safePath(user) {
		return p.send("Invalid directory path\n")
	}

	p.s.mu.Lock()
	d := p.s.dirLocked(user, false)
	_, ok := d.lookup(name)
	if ok {
		d.remove(name)
	}
	p.s.mu.Unlock()

	if !ok {
		return p.send("File not found\n")
	}
	return p.send(fmt.Sprintf("File %s deleted successfully from %s!\n", name, user))
}

func (d *dir) lookup(name string) ([]byte, bool) {
	if d == nil {
		return nil, false
	}
	data, ok := d.files[name]
	return data, ok
}

func (d *dir) remove(name string) {
	delete(d.files, name)
	for i, n := range d.names {
		if n == name {
			d.names = append(d.names[:i], d.names[i+1:]...)
			return
		}
	}
}
