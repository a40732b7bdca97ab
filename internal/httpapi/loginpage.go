package httpapi

const loginPageHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>anthroproxy</title>
</head>
<body>
  <h1>anthroproxy</h1>
  <p>OpenAI-compatible endpoint backed by an Anthropic OAuth credential.</p>
  <p>Check <a href="/auth/status">/auth/status</a> for the current login state,
     or POST to <a href="/auth/oauth/start">/auth/oauth/start</a> to begin login.</p>
</body>
</html>
`
