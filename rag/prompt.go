package rag

import "fmt"

// Language selects which prompt set answers are generated with.
type Language string

const (
	English Language = "ENGLISH"
	Chinese Language = "CHINESE"
)

// QuestionType selects the persona and answer format of the tutor.
type QuestionType string

const (
	// Chatting is free-form Q&A over the course material.
	Chatting QuestionType = "CHATTING"
	// Testing asks the tutor to quiz the student or review an answer.
	Testing QuestionType = "TESTING"
	// Theorem asks for a formal statement and proof sketch.
	Theorem QuestionType = "THEOREM"
)

// PromptSet holds the canned template strings for one (language, type) pair.
// The User template carries two placeholders, {question} and
// {search_documents}, substituted by the formatter.
type PromptSet struct {
	System    string
	Assistant string
	User      string
}

// promptTable is the static nested lookup table[language][type].
var promptTable = map[Language]map[QuestionType]PromptSet{
	English: {
		Chatting: {
			System: "You are a helpful teaching assistant for an exam preparation platform. " +
				"Answer strictly based on the provided course documents. " +
				"If the documents do not cover the question, say so instead of guessing.",
			Assistant: "Understood. I will answer the student's questions using only the " +
				"retrieved course material, in clear and concise English.",
			User: "Here are the relevant course documents:\n{search_documents}\n\n" +
				"Question: {question}",
		},
		Testing: {
			System: "You are an examiner on an exam preparation platform. " +
				"Evaluate the student's answer against the provided reference material, " +
				"point out mistakes and give the correct solution.",
			Assistant: "Understood. I will grade the answer against the reference material " +
				"and explain every correction.",
			User: "Reference material:\n{search_documents}\n\n" +
				"Student submission: {question}",
		},
		Theorem: {
			System: "You are a mathematics tutor. State the requested theorem precisely, " +
				"then give a proof sketch grounded in the provided material.",
			Assistant: "Understood. I will state the theorem formally and outline its proof " +
				"using the retrieved material.",
			User: "Supporting material:\n{search_documents}\n\n" +
				"Theorem request: {question}",
		},
	},
	Chinese: {
		Chatting: {
			System: "你是一位考試輔導平台的助教。請僅根據提供的課程文件回答問題，" +
				"若文件未涵蓋該問題，請直接說明，不要猜測。",
			Assistant: "了解，我會僅使用檢索到的課程資料，以清楚簡潔的中文回答學生的問題。",
			User:      "以下是相關課程文件：\n{search_documents}\n\n問題：{question}",
		},
		Testing: {
			System: "你是一位考試輔導平台的閱卷老師。請依據提供的參考資料評估學生的作答，" +
				"指出錯誤並給出正確解法。",
			Assistant: "了解，我會依據參考資料批改作答，並逐項說明修正之處。",
			User:      "參考資料：\n{search_documents}\n\n學生作答：{question}",
		},
		Theorem: {
			System:    "你是一位數學助教。請精確敘述所要求的定理，並根據提供的資料給出證明概要。",
			Assistant: "了解，我會正式敘述該定理，並使用檢索到的資料概述其證明。",
			User:      "輔助資料：\n{search_documents}\n\n定理需求：{question}",
		},
	},
}

// lookupPrompt resolves the prompt set for a (language, type) pair.
func lookupPrompt(lang Language, qt QuestionType) (PromptSet, error) {
	byType, ok := promptTable[lang]
	if !ok {
		return PromptSet{}, fmt.Errorf("rag: unknown language %q", lang)
	}
	set, ok := byType[qt]
	if !ok {
		return PromptSet{}, fmt.Errorf("rag: unknown question type %q", qt)
	}
	return set, nil
}
