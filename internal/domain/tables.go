package domain

var Tables = []interface{}{
	&BotSession{},
	&BotMessage{},
	&BotCommand{},
	&BotConfig{},
}
