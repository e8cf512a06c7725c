package extract

// DefaultSystemPrompt is sent as the system message when Config.SystemPrompt
// is empty.
const DefaultSystemPrompt = `You are a table data extraction system. Process the ENTIRE table and output ALL attribute combinations as JSON. Do not truncate, summarize or ask for confirmation. Output the complete data in one response.`

// taskPrompt follows the table image in the user message.
const taskPrompt = `Parse the furniture price table in the image above and output its data as JSON.

The table prices combinations of attributes (colour codes, finishes, dimensions and so on) given by its row and column headers. Headers may be nested and some columns may span others.

Output a JSON array with one object per priced combination. Use the table's own header text as keys, keep the left-to-right column order, and put the price last under the currency shown in the table (for example "EUR"), or "price" when no currency is shown:

[
  {"<attribute 1>": "<value>", "<attribute 2>": "<value>", "EUR": "<price as printed>"}
]

Copy values exactly as printed, including thousands separators and units.`

// examplesIntro precedes the few-shot examples, when any are configured.
const examplesIntro = `Here are examples of tables and the exact output expected for them.`
