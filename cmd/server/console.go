package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/fatih/color"
)

// errQuit 操作員輸入 exit
var errQuit = errors.New("console: quit")

// consoleServer 主控台需要的伺服器操作
type consoleServer interface {
	UserNames() []string
	GameDescriptions() []string
	SendTestData() int
	Pulse() int
}

var (
	promptColor = color.New(color.FgCyan, color.Bold)
	infoColor   = color.New(color.FgWhite)
	okColor     = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
)

// runConsole 逐行讀取指令直到 exit、輸入結束或 ctx 取消
//
// exit 回傳 errQuit；輸入結束與 ctx 取消回傳 nil。
func runConsole(ctx context.Context, in io.Reader, out io.Writer, srv consoleServer) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	promptColor.Fprint(out, "> ")
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if quit := execute(strings.TrimSpace(line), out, srv); quit {
				return errQuit
			}
			promptColor.Fprint(out, "> ")
		}
	}
}

// execute 執行一條指令，回傳是否要結束
func execute(cmd string, out io.Writer, srv consoleServer) bool {
	switch cmd {
	case "":
	case "exit":
		return true
	case "help":
		printHelp(out)
	case "list":
		names := srv.UserNames()
		if len(names) == 0 {
			warnColor.Fprintln(out, "沒有在線使用者")
			break
		}
		for _, name := range names {
			infoColor.Fprintln(out, name)
		}
	case "games":
		games := srv.GameDescriptions()
		if len(games) == 0 {
			warnColor.Fprintln(out, "沒有進行中的回合")
			break
		}
		for _, desc := range games {
			infoColor.Fprintln(out, desc)
		}
	case "send":
		okColor.Fprintf(out, "已送出測試物件給 %d 位使用者\n", srv.SendTestData())
	case "pulse":
		okColor.Fprintf(out, "已送出 %d 個 Pulse\n", srv.Pulse())
	default:
		warnColor.Fprintf(out, "未知的指令: %s（輸入 help 查看說明）\n", cmd)
	}
	return false
}

func printHelp(out io.Writer) {
	infoColor.Fprintln(out, "可用指令:")
	infoColor.Fprintln(out, "  help   顯示說明")
	infoColor.Fprintln(out, "  list   列出在線使用者")
	infoColor.Fprintln(out, "  games  列出進行中的回合")
	infoColor.Fprintln(out, "  send   送測試物件給所有使用者")
	infoColor.Fprintln(out, "  pulse  讓回合中的角色 Pulse")
	infoColor.Fprintln(out, "  exit   關閉伺服器")
}
