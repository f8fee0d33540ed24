// relay sits between a client and the storage server and dumps both
// directions of every session, for debugging the wire protocol.
package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/alecthomas/kingpin/v2"
	log "github.com/sirupsen/logrus"
)

var (
	app    = kingpin.New("relay", "Dump the traffic between clients and the storage server.")
	listen = app.Flag("listen", "Address clients connect to.").Default("127.0.0.1:2122").String()
	target = app.Flag("target", "Storage server address.").Default("127.0.0.1:2121").String()
	text   = app.Flag("text", "Print printable messages as text instead of hex.").Bool()
)

// printMu keeps the dumps of concurrent sessions from interleaving.
var printMu sync.Mutex

func dump(id int64, arrow string, buf []byte) {
	printMu.Lock()
	defer printMu.Unlock()
	if *text && printable(buf) {
		fmt.Printf("#%d %s %q\n", id, arrow, buf)
		return
	}
	fmt.Printf("#%d %s\n%s", id, arrow, hex.Dump(buf))
}

func printable(buf []byte) bool {
	for _, c := range buf {
		if (c < 0x20 && c != '\n' && c != '\r' && c != '\t') || c > 0x7e {
			return false
		}
	}
	return true
}

// pipe copies src to dst, dumping each read, and closes dst when src ends.
func pipe(id int64, arrow string, dst, src net.Conn) {
	buf := make([]byte, 64*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			dump(id, arrow, buf[:n])
			if _, werr := dst.Write(buf[:n]); werr != nil {
				log.Debugf("#%d %s write: %v", id, arrow, werr)
				break
			}
		}
		if err != nil {
			if err != io.EOF {
				log.Debugf("#%d %s read: %v", id, arrow, err)
			}
			break
		}
	}
	dst.Close()
}

func relay(listen, target string) error {
	listener, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("relay: fail to listen on: %v, error:%v", listen, err)
	}
	log.Infof("relay: %s -> %s", listen, target)

	var sessions int64
	for {
		conn, err := listener.Accept()
		if err != nil {
			return fmt.Errorf("relay: fail to accept: %v", err)
		}
		id := atomic.AddInt64(&sessions, 1)

		server, err := net.Dial("tcp", target)
		if err != nil {
			log.Errorf("#%d dial %s: %v", id, target, err)
			conn.Close()
			continue
		}
		log.Infof("#%d %s connected", id, conn.RemoteAddr())
		go pipe(id, "--->", server, conn)
		go pipe(id, "<---", conn, server)
	}
}

func initLog() {
	log.SetReportCaller(true)
	log.SetFormatter(&log.TextFormatter{
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			filename := path.Base(f.File)
			return "", fmt.Sprintf("%s:%d", filename, f.Line)
		},
	})
	log.SetLevel(log.InfoLevel)
}

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))
	initLog()
	log.Fatal(relay(*listen, *target))
}
