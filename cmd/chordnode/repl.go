package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"chordkv"
)

// runREPL implements the node's minimal interactive surface:
// insert|key:value, get|key, delete|key, finger, info, exit. It is a
// thin convenience wrapper around the Node API, not exercised by the
// automated test suite.
func runREPL(ctx context.Context, node *chordkv.Node) {
	fmt.Println("chordkv node", node.Address().String(), "- type 'exit' to quit")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "exit":
			return
		case line == "info":
			printInfo(node)
		case line == "finger":
			printFingers(node)
		case strings.HasPrefix(line, "insert|"):
			handleInsert(ctx, node, strings.TrimPrefix(line, "insert|"))
		case strings.HasPrefix(line, "get|"):
			handleGet(ctx, node, strings.TrimPrefix(line, "get|"))
		case strings.HasPrefix(line, "delete|"):
			handleDelete(ctx, node, strings.TrimPrefix(line, "delete|"))
		default:
			fmt.Println("unknown command")
		}
	}
}

func handleInsert(ctx context.Context, node *chordkv.Node, rest string) {
	kv := strings.SplitN(rest, ":", 2)
	if len(kv) != 2 {
		fmt.Println("usage: insert|key:value")
		return
	}
	if err := node.Store(ctx, kv[0], kv[1]); err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("ok")
}

func handleGet(ctx context.Context, node *chordkv.Node, key string) {
	value, err := node.Retrieve(ctx, key)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println(value)
}

func handleDelete(ctx context.Context, node *chordkv.Node, key string) {
	if err := node.Delete(ctx, key); err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("ok")
}

func printInfo(node *chordkv.Node) {
	view := node.Info()
	fmt.Printf("self=%d (%s) successor=%s predecessor=%v standalone=%v\n",
		view.SelfID, view.Self, view.Successor, view.Predecessor, view.Standalone)
}

func printFingers(node *chordkv.Node) {
	view := node.Info()
	for i, f := range view.Fingers {
		fmt.Printf("finger[%d] start=%d -> %s\n", i, f.Start, f.Target)
	}
}
