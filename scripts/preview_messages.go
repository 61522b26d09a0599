// 预览题目消息，不连接 WhatsApp
//
// 编辑题库后用来检查排版，输出与实际发送的文本完全一致。
//
// 用法: go run scripts/preview_messages.go [题目ID]

package main

import (
	"fmt"
	"log"
	"os"

	"mcq_bot/internal/config"
	"mcq_bot/internal/model"
	"mcq_bot/internal/repository"
	"mcq_bot/internal/service"
	"mcq_bot/internal/util"
)

func main() {
	cfg, err := config.LoadConfig("configs")
	if err != nil {
		log.Fatalf("无法读取配置文件: %v", err)
	}

	repo := repository.NewQuestionRepository(cfg.Data.QuestionsFile)

	var questions []model.Question
	if len(os.Args) > 1 {
		id, err := util.ParseQuestionID(os.Args[1])
		if err != nil {
			log.Fatalf("题目ID无效: %v", err)
		}
		q, err := repo.FindByID(id)
		if err != nil {
			log.Fatalf("读取题目失败: %v", err)
		}
		questions = []model.Question{*q}
	} else {
		questions, err = repo.FindAll()
		if err != nil {
			log.Fatalf("读取题库失败: %v", err)
		}
	}

	formatter := service.NewMessageFormatter()
	total := len(questions)
	for i, q := range questions {
		fmt.Printf("===== #%d (id %d) -> %s =====\n", i+1, q.ID, cfg.Bot.QuestionsChannel)
		fmt.Println(formatter.RenderPrompt(q, i+1, total))
		fmt.Printf("----- answer -> %s -----\n", cfg.Bot.AnswersChannel)
		fmt.Println(formatter.RenderReveal(q, i+1, total))
		fmt.Println()
	}
}
