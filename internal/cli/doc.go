// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package cli implements the assurbot command line.

Commands are built with cobra. Without a subcommand, assurbot opens the
full-screen interface supplied by main; every other command runs in line
mode and is safe to use in scripts.

# Commands

	assurbot                      Full-screen interface
	assurbot login                Sign in (prompts for missing values)
	assurbot register             Create an account
	assurbot logout               Sign out
	assurbot whoami [--json]      Show the signed-in account
	assurbot profile edit         Change name, phone or bio
	assurbot passwd               Change password (signs out everywhere)
	assurbot password-reset request <email> | confirm [--token t]
	assurbot sessions             Active logins (terminate <key>, terminate-all)
	assurbot ask <question>       One question to the assistant ("-" reads stdin)
	assurbot chat                 Interactive conversation
	assurbot devis                Step-by-step quote
	assurbot history [-f fmt]     Saved quotes (--chats for conversations)
	assurbot history show <id>    One saved quote
	assurbot history delete <id>  Remove a saved quote
	assurbot config show|path|get|set|init
	assurbot version

# Global Flags

	--config      config file (default ~/.assurbot/config.toml)
	--api-url     backend base URL
	-v, --verbose debug logging
	--log-stderr  log to stderr instead of ~/.assurbot/assurbot.log

# Terminal Handling

On a terminal, chat and devis use liner for line editing and history,
passwords are read without echo, and replies are rendered with glamour.
When input or output is redirected, lines are read as plain text and
output carries no escape sequences.
*/
package cli
