package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rudransh-shrivastava/peerlink/internal/identity"
	"github.com/rudransh-shrivastava/peerlink/internal/middleware"
	"github.com/rudransh-shrivastava/peerlink/internal/node"
	"github.com/rudransh-shrivastava/peerlink/internal/session"
	"github.com/rudransh-shrivastava/peerlink/internal/transport"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"
)

// console renders peer events on a terminal and turns input lines into
// node actions.
type console struct {
	out         io.Writer
	downloadDir string
	logger      logrus.FieldLogger
	known       func(ctx context.Context) ([]string, error)

	mu   sync.Mutex
	bars map[string]*progressbar.ProgressBar
}

func newConsole(out io.Writer, downloadDir string, logger logrus.FieldLogger) *console {
	return &console{
		out:         out,
		downloadDir: downloadDir,
		logger:      logger,
		bars:        make(map[string]*progressbar.ProgressBar),
	}
}

func (c *console) handlers() session.Handlers {
	return session.Handlers{
		OnText: func(peerID, text string) {
			c.printf("[%s] %s\n", identity.ShortID(peerID), text)
		},
		OnTyping: func(peerID string, typing bool) {
			if typing {
				c.printf("* %s is typing\n", identity.ShortID(peerID))
			}
		},
		OnVerified: func(peerID string) {
			c.printf("* %s joined\n", identity.ShortID(peerID))
		},
		OnClose: func(peerID string, reason transport.State, block bool) {
			if block {
				c.printf("* %s blocked (%s)\n", identity.ShortID(peerID), reason)
				return
			}
			c.printf("* %s left (%s)\n", identity.ShortID(peerID), reason)
		},
		OnSendProgress: c.progress,
		OnFileProgress: c.progress,
		OnFileComplete: c.saveFile,
		OnFileAbandoned: func(peerID, fileID string, received, total int) {
			c.finishBar(fileID)
			c.printf("* transfer from %s abandoned after %d/%d chunks\n", identity.ShortID(peerID), received, total)
		},
	}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// progress draws one bar per file. The bar is cleared once it reaches 100.
func (c *console) progress(peerID string, p middleware.Progress) {
	c.mu.Lock()
	bar, ok := c.bars[p.FileID]
	if !ok {
		bar = progressbar.NewOptions(100,
			progressbar.OptionSetWriter(c.out),
			progressbar.OptionSetWidth(30),
			progressbar.OptionClearOnFinish(),
		)
		c.bars[p.FileID] = bar
	}
	bar.Describe(fmt.Sprintf("%s %s %.0f kb/s", identity.ShortID(peerID), p.Title, p.Bitrate))
	_ = bar.Set(p.Progress)
	c.mu.Unlock()

	if p.Progress >= 100 {
		c.finishBar(p.FileID)
	}
}

func (c *console) finishBar(fileID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bar, ok := c.bars[fileID]; ok {
		_ = bar.Finish()
		delete(c.bars, fileID)
	}
}

func (c *console) saveFile(peerID string, f middleware.ReceivedFile) {
	name := filepath.Base(f.Name)
	if name == "." || name == string(filepath.Separator) {
		name = f.ID
	}
	path := filepath.Join(c.downloadDir, name)
	if err := os.WriteFile(path, f.Data, 0o644); err != nil {
		c.logger.Errorf("Failed to save %s: %v", name, err)
		return
	}
	c.printf("* received %s (%d bytes) from %s -> %s\n", name, len(f.Data), identity.ShortID(peerID), path)
}

// readCommands runs until in is exhausted, /quit is read or ctx ends.
func (c *console) readCommands(ctx context.Context, in io.Reader, n *node.Node) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return
		}
		c.handleLine(ctx, line, n)
	}
}

func (c *console) handleLine(ctx context.Context, line string, n *node.Node) {
	switch {
	case line == "/peers":
		c.printPeers(n.Peers())

	case line == "/known":
		if c.known == nil {
			return
		}
		ids, err := c.known(ctx)
		if err != nil {
			c.printf("! %v\n", err)
			return
		}
		for _, id := range ids {
			c.printf("%s\n", id)
		}

	case strings.HasPrefix(line, "/file "):
		path := strings.TrimSpace(strings.TrimPrefix(line, "/file "))
		data, err := os.ReadFile(path)
		if err != nil {
			c.printf("! %v\n", err)
			return
		}
		mimeType := mime.TypeByExtension(filepath.Ext(path))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		sent, err := n.SendFile(ctx, middleware.File{Name: filepath.Base(path), MimeType: mimeType, Data: data})
		c.report("file", sent, err)

	default:
		sent, err := n.SendText(line)
		c.report("message", sent, err)
	}
}

func (c *console) report(what string, sent int, err error) {
	if errors.Is(err, node.ErrNoPeers) {
		c.printf("! no verified peers yet\n")
		return
	}
	if err != nil {
		c.printf("! %s delivered to %d peers: %v\n", what, sent, err)
	}
}

func (c *console) printPeers(peers []node.PeerInfo) {
	if len(peers) == 0 {
		c.printf("no sessions\n")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range peers {
		dir := "in"
		if p.Outgoing {
			dir = "out"
		}
		link := "-"
		if p.Link != nil {
			link = "direct"
			if p.Link.Relayed {
				link = "relayed"
			}
		}
		fmt.Fprintf(c.out, "%s  %-12s %-3s verified=%t link=%s\n", identity.ShortID(p.ID), p.State, dir, p.Verified, link)
	}
}
