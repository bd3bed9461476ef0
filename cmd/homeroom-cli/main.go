package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"homeroom/infra/registry"
)

var (
	baseURL     string
	consulAddr  string
	serviceName string
	teacher     string
	debug       bool

	reader = bufio.NewReader(os.Stdin)
	client = &http.Client{Timeout: 60 * time.Second}

	history []turn

	teacherColor = color.New(color.FgGreen, color.Bold)
	warnColor    = color.New(color.FgYellow)
	errColor     = color.New(color.FgRed)
)

type turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const maxTurns = 20

var rootCmd = &cobra.Command{
	Use:   "homeroom-cli",
	Short: "Talk to a homeroom server from the terminal",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if consulAddr != "" {
			u, err := discover()
			if err != nil {
				return err
			}
			baseURL = u
		}
		baseURL = strings.TrimRight(baseURL, "/")
		fmt.Printf("Homeroom CLI (%s)\n", baseURL)
		for {
			printMainMenu()
		}
	},
}

func discover() (string, error) {
	reg, err := registry.NewConsulRegistry(&registry.ConsulConfig{Address: consulAddr}, nil)
	if err != nil {
		return "", err
	}
	instances, err := reg.Discover(serviceName)
	if err != nil {
		return "", err
	}
	if len(instances) == 0 {
		return "", fmt.Errorf("no healthy %s instance in consul", serviceName)
	}
	return instances[0].URL() + strings.TrimRight(baseURLPath(), "/"), nil
}

// baseURLPath keeps a path given with --url when the host comes from consul.
func baseURLPath() string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return ""
	}
	return u.Path
}

func printMainMenu() {
	label := teacher
	if label == "" {
		label = "default"
	}
	fmt.Printf("\n=== Homeroom (%s) ===\n", label)
	fmt.Println("1. Consult")
	fmt.Println("2. Ask a question")
	fmt.Println("3. Coach my tasks")
	fmt.Println("4. Daily phrase")
	fmt.Println("5. Daily tip")
	fmt.Println("6. Change teacher")
	fmt.Println("7. Exit")
	fmt.Print("> ")

	switch strings.TrimSpace(readLine()) {
	case "1":
		consultLoop()
	case "2":
		handleQuestion()
	case "3":
		handleCoach()
	case "4":
		handleDaily("/daily_phrase", "phrase")
	case "5":
		handleDaily("/daily_tip", "tip")
	case "6":
		handleTeachers()
	case "7":
		fmt.Println("Bye!")
		os.Exit(0)
	default:
		fmt.Println("Invalid choice")
	}
}

func readLine() string {
	input, err := reader.ReadString('\n')
	if err != nil {
		os.Exit(0)
	}
	return input
}

func prompt(label string) string {
	fmt.Print(label)
	return strings.TrimSpace(readLine())
}

func consultLoop() {
	fmt.Println("Type 'exit' to go back.")
	for {
		msg := prompt("You: ")
		if msg == "exit" {
			return
		}
		if msg == "" {
			continue
		}
		var out struct {
			Reply string `json:"reply"`
		}
		body := map[string]any{"text": msg, "teacher": teacher, "history": history}
		if !post("/consult", body, &out) {
			continue
		}
		teacherColor.Print("Teacher: ")
		fmt.Println(out.Reply)
		history = append(history, turn{"user", msg}, turn{"assistant", out.Reply})
		if len(history) > maxTurns {
			history = history[len(history)-maxTurns:]
		}
	}
}

func handleQuestion() {
	q := prompt("Question: ")
	if q == "" {
		return
	}
	subject := prompt("Subject (optional): ")
	var out struct {
		Steps []string `json:"steps"`
	}
	if !post("/question", map[string]any{"question": q, "subject": subject, "teacher": teacher}, &out) {
		return
	}
	for i, s := range out.Steps {
		teacherColor.Printf("%d. ", i+1)
		fmt.Println(s)
	}
}

func handleCoach() {
	fmt.Println("Enter one task per line, optionally 'title @ 2026-10-20'. Empty line to finish.")
	var tasks []map[string]string
	for {
		line := prompt("- ")
		if line == "" {
			break
		}
		title, due, _ := strings.Cut(line, "@")
		tasks = append(tasks, map[string]string{"title": strings.TrimSpace(title), "due": strings.TrimSpace(due)})
	}
	var out struct {
		Tip string `json:"tip"`
	}
	if !post("/todo/coach", map[string]any{"teacher": teacher, "tasks": tasks}, &out) {
		return
	}
	teacherColor.Print("Next: ")
	fmt.Println(out.Tip)
}

func handleDaily(path, field string) {
	topic := prompt("Topic (optional): ")
	q := url.Values{}
	if teacher != "" {
		q.Set("teacher", teacher)
	}
	if topic != "" {
		q.Set("topic", topic)
	}
	var out map[string]any
	if !get(path+"?"+q.Encode(), &out) {
		return
	}
	teacherColor.Println(out[field])
}

func handleTeachers() {
	var teachers []struct {
		ID          string `json:"id"`
		DisplayName string `json:"displayName"`
		Subject     string `json:"subject"`
	}
	if !get("/teachers", &teachers) {
		return
	}
	for _, t := range teachers {
		fmt.Printf("  %-8s %s (%s)\n", t.ID, t.DisplayName, t.Subject)
	}
	if next := prompt("Teacher id or name: "); next != "" {
		teacher = next
		history = nil
	}
}

func withDebug(path string) string {
	if !debug {
		return path
	}
	if strings.Contains(path, "?") {
		return path + "&debug=1"
	}
	return path + "?debug=1"
}

func post(path string, body any, out any) bool {
	data, _ := json.Marshal(body)
	resp, err := client.Post(baseURL+withDebug(path), "application/json", bytes.NewBuffer(data))
	if err != nil {
		errColor.Printf("Error: %v\n", err)
		return false
	}
	return decode(resp, out)
}

func get(path string, out any) bool {
	resp, err := client.Get(baseURL + withDebug(path))
	if err != nil {
		errColor.Printf("Error: %v\n", err)
		return false
	}
	return decode(resp, out)
}

func decode(resp *http.Response, out any) bool {
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		errColor.Printf("Request failed (%d): %s\n", resp.StatusCode, strings.TrimSpace(string(raw)))
		return false
	}
	if debug {
		var meta struct {
			Source string `json:"source"`
			Error  string `json:"error"`
		}
		if json.Unmarshal(raw, &meta) == nil && meta.Source == "fallback" {
			warnColor.Printf("(fallback: %s)\n", meta.Error)
		}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		errColor.Printf("Bad response: %v\n", err)
		return false
	}
	return true
}

func main() {
	rootCmd.Flags().StringVar(&baseURL, "url", "http://localhost:8000", "server base URL")
	rootCmd.Flags().StringVar(&consulAddr, "consul", "", "discover the server through this consul agent")
	rootCmd.Flags().StringVar(&serviceName, "service", "homeroom", "service name registered in consul")
	rootCmd.Flags().StringVarP(&teacher, "teacher", "t", "", "teacher id or alias")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "ask the server for diagnostics")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
