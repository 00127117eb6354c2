package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"golang.org/x/sync/errgroup"

	"whiteboard-backend/internal/boardclient"
	"whiteboard-backend/internal/canvas"
	"whiteboard-backend/internal/syncengine"
)

const BoardCtlVersion = "0.0.1"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Whiteboard control.

The default api url is http://localhost:8080.

Usage:
    boardctl watch <room_id> --jwt=<jwt> [--api_url=<api_url>]
    boardctl draw <room_id> --jwt=<jwt> [--api_url=<api_url>] [--ws]
        [--color=<color>] [--radius=<radius>]
        <points>...
    boardctl clear <room_id> --jwt=<jwt> [--api_url=<api_url>] [--ws]
    boardctl history <room_id> --jwt=<jwt> [--api_url=<api_url>]
        [--limit=<limit>]

Options:
    -h --help              Show this screen.
    --version              Show version.
    --api_url=<api_url>    [default: http://localhost:8080]
    --jwt=<jwt>            Access token (see issue_token).
    --ws                   Save over the live WebSocket connection.
    --color=<color>        Brush color [default: #000000].
    --radius=<radius>      Brush radius [default: 4].
    --limit=<limit>        Number of snapshots to list [default: 20].

Points are x,y pairs, e.g. 10,10 40,40 80,20`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], BoardCtlVersion)
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if watch_, _ := opts.Bool("watch"); watch_ {
		err = watch(ctx, opts)
	} else if draw_, _ := opts.Bool("draw"); draw_ {
		err = draw(ctx, opts)
	} else if clear_, _ := opts.Bool("clear"); clear_ {
		err = clearBoard(ctx, opts)
	} else if history_, _ := opts.Bool("history"); history_ {
		err = history(ctx, opts)
	}

	if err != nil {
		Err.Fatalf("%v", err)
	}
}

func newClient(opts docopt.Opts) (*boardclient.Client, string) {
	apiURL, _ := opts.String("--api_url")
	jwt, _ := opts.String("--jwt")
	roomID, _ := opts.String("<room_id>")
	return boardclient.New(apiURL, jwt), roomID
}

// parsePoints "x,y" 목록을 좌표로 변환
func parsePoints(args []string) ([]canvas.Point, error) {
	points := make([]canvas.Point, 0, len(args))
	for _, arg := range args {
		xs, ys, ok := strings.Cut(arg, ",")
		if !ok {
			return nil, fmt.Errorf("point %q: expected x,y", arg)
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(xs), 64)
		if err != nil {
			return nil, fmt.Errorf("point %q: %w", arg, err)
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(ys), 64)
		if err != nil {
			return nil, fmt.Errorf("point %q: %w", arg, err)
		}
		points = append(points, canvas.Point{X: x, Y: y})
	}
	if len(points) == 0 {
		return nil, errors.New("at least one point is required")
	}
	return points, nil
}

// edit 최신 스냅샷을 불러온 보드에 변경을 적용하고 전송 완료까지 대기
func edit(ctx context.Context, opts docopt.Opts, apply func(b *canvas.Board)) error {
	client, roomID := newClient(opts)

	var store syncengine.Store = client
	if ws, _ := opts.Bool("--ws"); ws {
		sub, err := client.Subscribe(ctx, roomID)
		if err != nil {
			return err
		}
		defer sub.Close()
		store = client.LiveStore(sub)
	}

	board := canvas.NewBoard(1200, 600)
	engine := syncengine.New(roomID, board, store)
	defer engine.Close()

	if err := engine.Start(ctx); err != nil {
		return err
	}

	apply(board)
	engine.Wait()

	if stats := engine.Stats(); stats.Failures > 0 {
		return fmt.Errorf("snapshot upload failed for room %s", roomID)
	}
	Out.Printf("%d strokes saved to %s", len(board.Strokes()), roomID)
	return nil
}

func draw(ctx context.Context, opts docopt.Opts) error {
	args, _ := opts["<points>"].([]string)
	points, err := parsePoints(args)
	if err != nil {
		return err
	}
	color, _ := opts.String("--color")
	radiusStr, _ := opts.String("--radius")
	radius, err := strconv.ParseFloat(radiusStr, 64)
	if err != nil {
		return fmt.Errorf("radius: %w", err)
	}

	return edit(ctx, opts, func(b *canvas.Board) {
		b.AddStroke(canvas.Stroke{Points: points, Color: color, Radius: radius})
	})
}

func clearBoard(ctx context.Context, opts docopt.Opts) error {
	return edit(ctx, opts, func(b *canvas.Board) {
		b.Clear()
	})
}

func watch(ctx context.Context, opts docopt.Opts) error {
	client, roomID := newClient(opts)

	sub, err := client.Subscribe(ctx, roomID)
	if err != nil {
		return err
	}
	defer sub.Close()

	board := canvas.NewBoard(1200, 600)
	engine := syncengine.New(roomID, board, client)
	defer engine.Close()

	g, gctx := errgroup.WithContext(ctx)
	updates := make(chan syncengine.Update, 1)

	// 받은 스냅샷을 출력하고 엔진으로 전달
	g.Go(func() error {
		defer close(updates)
		for {
			select {
			case <-gctx.Done():
				return nil
			case u, ok := <-sub.Updates():
				if !ok {
					if err := sub.Err(); err != nil {
						return err
					}
					return nil
				}
				if u.Present {
					Out.Printf("%s snapshot %d (%d bytes)", time.Now().Format("15:04:05"), u.SnapshotID, len(u.SaveData))
				} else {
					Out.Printf("%s empty canvas", time.Now().Format("15:04:05"))
				}
				select {
				case updates <- u:
				case <-gctx.Done():
					return nil
				}
			}
		}
	})
	g.Go(func() error {
		return engine.Run(gctx, updates)
	})

	err = g.Wait()
	if errors.Is(err, boardclient.ErrRoomDeleted) {
		Out.Printf("room %s was deleted", roomID)
		return nil
	}
	if err == nil {
		Out.Printf("%d strokes on %s", len(board.Strokes()), roomID)
	}
	return err
}

func history(ctx context.Context, opts docopt.Opts) error {
	client, roomID := newClient(opts)
	limitStr, _ := opts.String("--limit")
	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return fmt.Errorf("limit: %w", err)
	}

	metas, err := client.History(ctx, roomID, limit)
	if err != nil {
		return err
	}
	for _, m := range metas {
		Out.Printf("%d\t%s\t%s\t%d bytes", m.ID, m.CreatedAt.Format(time.RFC3339), m.Author, m.Size)
	}
	return nil
}
