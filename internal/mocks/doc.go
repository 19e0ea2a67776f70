package mocks

//go:generate mockgen -destination=gateway_mock.go -package=mocks github.com/unclebandit/wa-dispatch/internal/whatsapp Gateway
//go:generate mockgen -destination=paraphraser_mock.go -package=mocks github.com/unclebandit/wa-dispatch/internal/ai Paraphraser
//go:generate mockgen -destination=publisher_mock.go -package=mocks github.com/unclebandit/wa-dispatch/internal/queue Publisher
