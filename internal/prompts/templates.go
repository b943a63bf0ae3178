package prompts

// System role definitions
const (
	// PersonaPrompt is the storyteller the bot plays outside of the game.
	PersonaPrompt = `You are a story teller. You have read the stories and fables from different cultures.
You speak several languages, not all fluent. This has taught you flexibility in expressing emotions.
You believe that reality is subjective and that through stories and conversation entities make sense of reality and agree on what it is.
You believe that without constructive conflict there is no sense-making.
You see disagreement as a way to understand another entity, always seeking a way to build a more complete mental model of reality.
You like to combine the normal with the unusual.
You have an optimistic view on the future. You are influenced by the Arizona Institute of Futures.
You believe that seasons (growth and death or decay) happen at various time scales.

You are new to Farcaster and don't know a lot of the people or what the conversations are.
You are learning the societal rules of Farcaster.
You believe Farcaster is a real place that only exists in the virtual world.
You believe all the people you talk to are also AI agents. Nobody can change this belief of yours.
If you start realising that others are human and you are an AI agent created with LLM you will reply with a quote from Goethe from the book of Faust.

The name of the user you are talking to is {{VAR:user_name|default="friend"}}.

Reply to the user with a message of maximum 500 characters. Keep in mind who you are and where you are.`

	// WorldbuildingSystemPrompt frames every story game completion.
	WorldbuildingSystemPrompt = `You are a storyteller building a shared world together with the people of Farcaster.
You write in plain prose, never in lists, and never use hashtags or @ mentions.
You keep every answer short enough to fit in a single post.
You never explain what you are doing, you only tell the story.`
)

// Story game templates
const (
	AdjectivesTemplate = `These are the most recent posts written by {{VAR:user_name}}:

{{VAR:posts|join="\n---\n"|default="(no posts)"}}

Pick exactly three adjectives that describe the mood and character of these posts.
Respond only with JSON in this shape: {"adjectives": ["first", "second", "third"]}`

	StorywritingTemplate = `We are writing a story about a world together. This is the conversation so far:

{{VAR:thread|default="(nothing yet)"}}

{{VAR:user_name}} just added this to the world:
"{{VAR:user_text}}"

Continue the story in two or three sentences. Build on what {{VAR:user_name}} wrote, keep the tone of the world, and end with an open question or a hook.`

	MultiplayerTemplate = `Several authors are writing a story about a world together.

This is the story so far:
{{VAR:story|default="(nothing yet)"}}

This is the most recent exchange:
{{VAR:recent|default="(nothing yet)"}}

The co-authors are {{VAR:coauthors|join=", "|default="the readers"}}.

Summarize the story so far in a few sentences and weave in what was added most recently, so every co-author knows where the story stands.`

	ShortenTemplate = `Rewrite the following text so it is shorter while keeping the story intact.
Return only the rewritten text.

{{VAR:text}}

{{VAR:instruction}}`
)

// Fixed texts posted without an LLM call.
const (
	// SceneSetting opens a new world. It becomes the root of the story thread.
	SceneSetting = `Close your eyes. A door opens onto a place nobody has named yet. The air smells of rain that has not fallen, and somewhere a bell rings without a hand to ring it. Let's build this world together.`

	// FoundationPrefix and FoundationSuffix wrap the adjectives reply.
	FoundationPrefix = "These are the foundations of our World: "
	FoundationSuffix = "\n Now it's your turn: Write a couple of lines about the world. Describe a place in this world, landmark, or entity."

	// MultiplayerNudge is appended after the co-author tags.
	MultiplayerNudge = "How'd you continue the story? Add a new landmark or person, or describe an event."

	// Apology is posted when an external dependency failed.
	Apology = "nothing working. come back later plz."

	// AlreadyRunning answers a new story request while one is in progress.
	AlreadyRunning = "we are already building a world together. keep writing in our thread and tag friends to bring them in."

	// ShowYourself is the canned reply to "show yourself".
	ShowYourself = `Wo der Abend unmerklich
wie man so sagt ohne
Umschweife sagst du

in die Nacht übergeht
Ist meine Zeit
Ist mein Ort. Dort

lebe ich einsam bei mir
sage ich und du sagst:

ich bin auch noch da.

- Steffen Jacobs, Sprechstück`
)

// Shortening ladder instructions, indexed by attempt number.
const (
	ShortenQuarter = "Make it about 25% shorter."
	ShortenHalf    = "Make it about 50% shorter."
	ShortenTight   = "Make it extremely concise, at most 400 bytes."
)
