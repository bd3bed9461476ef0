package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/apache/rocketmq-client-go/v2/consumer"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"homeroom/infra/database"
	"homeroom/infra/queue"
	"homeroom/services/homeroom/internal/application"
	"homeroom/services/homeroom/internal/domain"
	"homeroom/services/homeroom/internal/persona"
	"homeroom/services/homeroom/internal/store"
)

var (
	showAliases bool

	askTeacher string
	askTask    string
	askSubject string

	listPersona string
	listLimit   int
	pruneAge    time.Duration

	eventsGroup string
)

var personasCmd = &cobra.Command{
	Use:   "personas [alias]",
	Short: "List the built-in teachers or resolve one alias",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := persona.Default()
		if len(args) == 1 {
			p := reg.Persona(reg.ResolveKey(args[0]))
			fmt.Printf("%s → %s %s (%s)\n", args[0], color.CyanString(p.Key), p.DisplayName, p.Subject)
			return nil
		}
		aliases := map[string][]string{}
		if showAliases {
			for alias, key := range reg.Aliases() {
				aliases[key] = append(aliases[key], alias)
			}
		}
		for _, p := range reg.List() {
			mark := " "
			if p.Key == persona.DefaultKey {
				mark = "*"
			}
			fmt.Printf("%s %s %s (%s)\n", mark, color.CyanString("%-8s", p.Key), p.DisplayName, p.Subject)
			if names := aliases[p.Key]; len(names) > 0 {
				sort.Strings(names)
				fmt.Printf("    %s\n", color.HiBlackString(strings.Join(names, ", ")))
			}
		}
		return nil
	},
}

var askCmd = &cobra.Command{
	Use:   "ask [text]",
	Short: "Send one request through the configured gateway and print the reply",
	Example: `  homeroom ask --teacher rika "数学のテストが不安"
  homeroom ask --task explain --subject 理科 "光合成とは"
  homeroom ask --task phrase --teacher rei`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		a, err := buildApp()
		if err != nil {
			return err
		}
		defer a.close()
		defer a.svc.Wait()

		ctx := cmd.Context()
		var reply *application.Reply
		switch askTask {
		case "chat", "consult":
			reply, err = a.svc.Consult(ctx, application.ConsultInput{Text: text, Teacher: askTeacher})
		case "explain", "question":
			reply, err = a.svc.Explain(ctx, application.QuestionInput{Question: text, Subject: askSubject, Teacher: askTeacher})
		case "coach", "digest":
			reply, err = a.svc.Coach(ctx, application.CoachInput{Teacher: askTeacher, Tasks: splitTasks(args)})
		case "phrase":
			reply, err = a.svc.DailyPhrase(ctx, askTeacher, text, "")
		case "tip":
			reply, err = a.svc.DailyTip(ctx, askTeacher, text, "")
		default:
			return fmt.Errorf("unknown task %q (chat, explain, coach, phrase, tip)", askTask)
		}
		if err != nil {
			return err
		}
		printReply(reply)
		return nil
	},
}

func splitTasks(args []string) []domain.PendingItem {
	items := make([]domain.PendingItem, 0, len(args))
	for _, a := range args {
		items = append(items, domain.PendingItem{Title: a})
	}
	return items
}

func printReply(r *application.Reply) {
	head := color.New(color.FgGreen, color.Bold).Sprintf("[%s]", r.Persona)
	if r.Source == domain.SourceFallback {
		head += color.YellowString(" fallback")
	}
	fmt.Println(head)
	if len(r.Steps) > 0 {
		for i, s := range r.Steps {
			fmt.Printf("%d. %s\n", i+1, s)
		}
	} else {
		fmt.Println(r.Text)
	}
	if r.Degraded != "" {
		fmt.Println(color.RedString(r.Degraded))
	}
}

var transcriptsCmd = &cobra.Command{
	Use:   "transcripts",
	Short: "Show recently archived exchanges from Postgres",
	Example: `  homeroom transcripts -p rika -n 5
  homeroom transcripts --prune 720h`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := database.NewPostgresDB(cfg.Postgres, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		repo := store.NewTranscriptRepository(db.DB)
		if pruneAge > 0 {
			n, err := repo.DeleteBefore(cmd.Context(), time.Now().Add(-pruneAge))
			if err != nil {
				return err
			}
			fmt.Printf("deleted %d transcripts older than %s\n", n, pruneAge)
			return nil
		}

		key := ""
		if listPersona != "" {
			key = persona.Default().ResolveKey(listPersona)
		}
		rows, err := repo.Recent(cmd.Context(), key, listLimit)
		if err != nil {
			return err
		}
		for _, t := range rows {
			src := color.GreenString(t.Source)
			if t.Source == string(domain.SourceFallback) {
				src = color.YellowString(t.Source)
			}
			fmt.Printf("%s %-12s %-8s %s %4dms\n", t.CreatedAt.Format(time.DateTime), t.Endpoint, t.Persona, src, t.LatencyMS)
			fmt.Printf("  > %s\n  < %s\n", oneLine(t.Input), oneLine(t.Output))
		}
		return nil
	},
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Follow published exchange events from RocketMQ",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(cfg.RocketMQ.NameServers) == 0 {
			return errors.New("rocketmq.name_servers is empty")
		}
		c, err := queue.NewConsumer(cfg.RocketMQ.NameServers, eventsGroup, consumer.Clustering)
		if err != nil {
			return err
		}
		err = c.Subscribe(cfg.RocketMQ.Topic, func(_ context.Context, msg queue.Message) error {
			var ev store.ExchangeEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				logger.Warn("skip malformed event", zap.String("id", msg.ID), zap.Error(err))
				return nil
			}
			fmt.Printf("%s %s/%s %s %dms\n", ev.CreatedAt.Format(time.TimeOnly), ev.Endpoint, ev.Persona, ev.Source, ev.LatencyMS)
			return nil
		})
		if err != nil {
			return err
		}
		if err := c.Start(); err != nil {
			return err
		}
		defer c.Stop()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		logger.Info("following exchange events", zap.String("topic", cfg.RocketMQ.Topic))
		<-ctx.Done()
		return nil
	},
}

func init() {
	personasCmd.Flags().BoolVar(&showAliases, "aliases", false, "also print accepted aliases")

	askCmd.Flags().StringVarP(&askTeacher, "teacher", "t", "", "teacher key or alias")
	askCmd.Flags().StringVar(&askTask, "task", "chat", "chat, explain, coach (digest), phrase or tip")
	askCmd.Flags().StringVar(&askSubject, "subject", "", "subject for explain")

	transcriptsCmd.Flags().StringVarP(&listPersona, "persona", "p", "", "only this teacher")
	transcriptsCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "rows to show")
	transcriptsCmd.Flags().DurationVar(&pruneAge, "prune", 0, "delete transcripts older than this instead of listing")

	eventsCmd.Flags().StringVar(&eventsGroup, "group", "homeroom_events_tail", "consumer group")
}
