// Command netmd-ctl performs a single control operation against an
// attached NetMD recorder: disc erase, title editing, track info, or
// transport seek.
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/pisarenko-net/md-uploader/pkg/netmd"
)

func main() {
	verbose := flag.Bool("v", false, "enable debug logging")
	logFormat := flag.String("log-format", "text", "log format: text or json")
	eraseDisc := flag.Bool("erase-disc", false, "erase the disc")
	setDiscTitle := flag.String("set-disc-title", "", "set the disc title")
	trackInfo := flag.Int("track-info", -1, "print title and length for the given track number")
	goToTrack := flag.Int("go-to-track", -1, "seek to the given track number")
	deviceIndex := flag.Int("device", -1, "device index to use; prompts interactively when omitted and more than one device is attached")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if *logFormat == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, opts)))
	} else {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, opts)))
	}

	ids, err := netmd.Enumerate()
	if err != nil {
		log.Fatalf("enumerate devices failed: %v", err)
	}
	if len(ids) == 0 {
		log.Fatal("no NetMD devices found")
	}

	index := *deviceIndex
	if index < 0 {
		if len(ids) == 1 {
			index = 0
		} else {
			index = selectMenu("select a recorder", deviceLabels(ids))
			if index < 0 {
				log.Fatal("no recorder selected")
			}
		}
	}
	if index >= len(ids) {
		log.Fatalf("device index %d out of range (%d devices found)", index, len(ids))
	}

	handle, err := netmd.Open(ids[index])
	if err != nil {
		log.Fatalf("open device failed: %v", err)
	}
	defer handle.Close()
	dev := netmd.NewDevice(handle)

	switch {
	case *eraseDisc:
		if err := dev.EraseDisc(); err != nil {
			log.Fatalf("erase disc failed: %v", err)
		}
		fmt.Println("disc erased")

	case *setDiscTitle != "":
		if err := dev.SetDiscTitle(*setDiscTitle, false); err != nil {
			log.Fatalf("set disc title failed: %v", err)
		}
		fmt.Println("disc title set")

	case *trackInfo >= 0:
		title, err := dev.GetTrackTitle(*trackInfo, false)
		if err != nil {
			log.Fatalf("get track title failed: %v", err)
		}
		length, err := dev.GetTrackLength(*trackInfo)
		if err != nil {
			log.Fatalf("get track length failed: %v", err)
		}
		fmt.Printf("track %d: %q (%02d:%02d:%02d.%03d)\n",
			*trackInfo, title, length.Hour, length.Minute, length.Second, length.Frame)

	case *goToTrack >= 0:
		landed, err := dev.GoToTrack(*goToTrack)
		if err != nil {
			log.Fatalf("go to track failed: %v", err)
		}
		fmt.Printf("now on track %d\n", landed)

	default:
		fmt.Println("nothing to do: pass one of -erase-disc, -set-disc-title, -track-info, -go-to-track")
	}
}

func deviceLabels(ids []netmd.USBID) []string {
	labels := make([]string, len(ids))
	for i, id := range ids {
		labels[i] = fmt.Sprintf("%04x:%04x", id.Vendor, id.Product)
	}
	return labels
}

// selectMenu renders an arrow-key menu on the terminal and returns the
// index the user picked, or -1 if the terminal could not be put into raw
// mode or input ended without a selection.
func selectMenu(prompt string, items []string) int {
	if len(items) == 0 {
		return -1
	}

	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting raw mode: %v\r\n", err)
		return -1
	}
	defer term.Restore(int(os.Stdin.Fd()), oldState)

	selected := 0

	fmt.Printf("%s\r\n", prompt)
	for i, item := range items {
		if i == selected {
			fmt.Printf("> %s\r\n", item)
		} else {
			fmt.Printf("  %s\r\n", item)
		}
	}

	buf := make([]byte, 3)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			break
		}

		if n == 1 {
			switch buf[0] {
			case 0x0D, 0x0A:
				fmt.Printf("\r\n")
				return selected
			case 0x03:
				term.Restore(int(os.Stdin.Fd()), oldState)
				fmt.Printf("\r\n")
				os.Exit(0)
			}
		} else if n == 3 && buf[0] == 0x1B && buf[1] == '[' {
			needRedraw := false
			switch buf[2] {
			case 'A':
				if selected > 0 {
					selected--
					needRedraw = true
				}
			case 'B':
				if selected < len(items)-1 {
					selected++
					needRedraw = true
				}
			}

			if needRedraw {
				fmt.Printf("\033[%dA", len(items))
				for i, item := range items {
					fmt.Print("\033[2K\r")
					if i == selected {
						fmt.Printf("> %s\r\n", item)
					} else {
						fmt.Printf("  %s\r\n", item)
					}
				}
			}
		}
	}

	return -1
}
